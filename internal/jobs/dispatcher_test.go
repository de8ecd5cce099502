package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// memJobSet is an in-memory jobSet with the same claim-by-lease
// semantics as the Redis implementation.
type memJobSet struct {
	mu     sync.Mutex
	scores map[string]time.Time
}

func newMemJobSet() *memJobSet {
	return &memJobSet{scores: make(map[string]time.Time)}
}

func (s *memJobSet) Add(_ context.Context, member string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[member] = fireAt
	return nil
}

func (s *memJobSet) Due(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m, at := range s.scores {
		if !at.After(now) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memJobSet) Claim(_ context.Context, member string, now, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.scores[member]
	if !ok || at.After(now) {
		return false, nil
	}
	s.scores[member] = leaseUntil
	return true, nil
}

func (s *memJobSet) Complete(_ context.Context, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scores, member)
	return nil
}

func (s *memJobSet) Swap(_ context.Context, old, replacement string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scores, old)
	s.scores[replacement] = fireAt
	return nil
}

func (s *memJobSet) members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m := range s.scores {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// rewind shifts every due time into the past, standing in for the
// passage of wall-clock time.
func (s *memJobSet) rewind(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m, at := range s.scores {
		s.scores[m] = at.Add(-d)
	}
}

func newTestDispatcher(set jobSet, maxAttempts int) *RedisDispatcher {
	return &RedisDispatcher{
		set:          set,
		pollInterval: time.Second,
		maxAttempts:  maxAttempts,
		handlers:     make(map[string]Handler),
	}
}

func TestJobRoundTrip(t *testing.T) {
	job := Job{
		ID:       "job_abc123",
		Type:     TypeStartTournament,
		Payload:  json.RawMessage(`{"tournament_id":"trn_1"}`),
		Attempts: 2,
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.ID != job.ID || got.Type != job.Type || got.Attempts != job.Attempts {
		t.Errorf("round trip mismatch: got %+v want %+v", got, job)
	}
	if string(got.Payload) != string(job.Payload) {
		t.Errorf("payload mismatch: got %s want %s", got.Payload, job.Payload)
	}
}

func TestCrashedClaimResurfacesAfterLease(t *testing.T) {
	ctx := context.Background()
	set := newMemJobSet()
	d := newTestDispatcher(set, 3)

	delivered := 0
	d.Register(TypeStartTournament, func(context.Context, json.RawMessage) error {
		delivered++
		return nil
	})

	if _, err := d.Enqueue(ctx, TypeStartTournament, map[string]string{"tournament_id": "trn_1"}, 0); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	members := set.members()
	if len(members) != 1 {
		t.Fatalf("scheduled members = %d, want 1", len(members))
	}

	// Another worker claims the job and dies before finishing it
	now := time.Now()
	if ok, _ := set.Claim(ctx, members[0], now, now.Add(deliveryLease)); !ok {
		t.Fatal("claim of a due job should succeed")
	}

	d.deliverDue(ctx)
	if delivered != 0 {
		t.Fatalf("delivered %d while the lease is held, want 0", delivered)
	}
	if len(set.members()) != 1 {
		t.Fatal("job vanished while the lease was held")
	}

	// Once the lease runs out the job becomes due again
	set.rewind(deliveryLease + time.Second)
	d.deliverDue(ctx)
	if delivered != 1 {
		t.Fatalf("delivered %d after lease expiry, want 1", delivered)
	}
	if len(set.members()) != 0 {
		t.Error("completed job should be removed from the set")
	}
}

func TestFailedDeliveryRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	set := newMemJobSet()
	d := newTestDispatcher(set, 5)

	calls := 0
	d.Register(TypeProcessRefund, func(context.Context, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("store offline")
		}
		return nil
	})

	if _, err := d.Enqueue(ctx, TypeProcessRefund, map[string]string{"entry_id": "ent_1"}, 0); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	d.deliverDue(ctx)
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if len(set.members()) != 1 {
		t.Fatal("failed job should be rescheduled, not lost")
	}

	// Still inside the backoff window
	d.deliverDue(ctx)
	if calls != 1 {
		t.Fatalf("job delivered before its backoff elapsed")
	}

	set.rewind(retryBackoff(1) + time.Second)
	d.deliverDue(ctx)
	if calls != 2 {
		t.Fatalf("handler calls = %d after backoff, want 2", calls)
	}
	if len(set.members()) != 0 {
		t.Error("completed job should be removed from the set")
	}
}

func TestExhaustedJobIsDropped(t *testing.T) {
	ctx := context.Background()
	set := newMemJobSet()
	d := newTestDispatcher(set, 1)

	calls := 0
	d.Register(TypeEndTournament, func(context.Context, json.RawMessage) error {
		calls++
		return errors.New("always failing")
	})

	if _, err := d.Enqueue(ctx, TypeEndTournament, map[string]string{"tournament_id": "trn_1"}, 0); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	d.deliverDue(ctx)
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if len(set.members()) != 0 {
		t.Error("exhausted job should be dropped from the set")
	}

	d.deliverDue(ctx)
	if calls != 1 {
		t.Errorf("dropped job delivered again: %d calls", calls)
	}
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	if retryBackoff(1) != 2*time.Second {
		t.Errorf("attempt 1 backoff = %v, want 2s", retryBackoff(1))
	}
	if retryBackoff(3) != 8*time.Second {
		t.Errorf("attempt 3 backoff = %v, want 8s", retryBackoff(3))
	}
	if retryBackoff(20) != 5*time.Minute {
		t.Errorf("attempt 20 backoff = %v, want cap of 5m", retryBackoff(20))
	}

	// monotonic up to the cap
	prev := time.Duration(0)
	for i := 1; i <= 10; i++ {
		b := retryBackoff(i)
		if b < prev {
			t.Errorf("backoff shrank at attempt %d: %v < %v", i, b, prev)
		}
		prev = b
	}
}
