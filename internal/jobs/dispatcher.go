package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job types handled by the tournament lifecycle
const (
	TypeStartTournament = "start-tournament"
	TypeEndTournament   = "end-tournament"
	TypeProcessRefund   = "process-refund"
)

const scheduledKey = "jobs:scheduled"

// deliveryLease bounds how long a claimed job stays invisible. A worker
// that dies mid-handler never clears its claim, so the job resurfaces
// for redelivery once the lease runs out.
const deliveryLease = time.Minute

// Job is a durable delayed unit of work. Members of the scheduled set
// are the JSON encoding of this struct; the member score is the unix
// time the job becomes due.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one delivered job. Returning an error re-enqueues
// the job with backoff: delivery is at-least-once and handlers must be
// idempotent.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Dispatcher schedules jobs for future delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, delay time.Duration) (string, error)
}

// jobSet is the durable scheduled set behind the dispatcher. Members
// are encoded jobs scored by due time.
type jobSet interface {
	Add(ctx context.Context, member string, fireAt time.Time) error
	Due(ctx context.Context, now time.Time) ([]string, error)
	// Claim pushes the member's due time to leaseUntil iff it is still
	// due at now; exactly one of several racing workers wins.
	Claim(ctx context.Context, member string, now, leaseUntil time.Time) (bool, error)
	Complete(ctx context.Context, member string) error
	// Swap replaces a claimed member with a re-encoded one due at fireAt.
	Swap(ctx context.Context, old, replacement string, fireAt time.Time) error
}

// claimScript bumps a due member's score to the lease deadline in one
// atomic step; returns 0 when the member is gone or already claimed.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
return 1
`)

type redisJobSet struct {
	rdb *redis.Client
}

func (s redisJobSet) Add(ctx context.Context, member string, fireAt time.Time) error {
	return s.rdb.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: member,
	}).Err()
}

func (s redisJobSet) Due(ctx context.Context, now time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
}

func (s redisJobSet) Claim(ctx context.Context, member string, now, leaseUntil time.Time) (bool, error) {
	return claimScript.Run(ctx, s.rdb, []string{scheduledKey},
		member, now.Unix(), leaseUntil.Unix()).Bool()
}

func (s redisJobSet) Complete(ctx context.Context, member string) error {
	return s.rdb.ZRem(ctx, scheduledKey, member).Err()
}

func (s redisJobSet) Swap(ctx context.Context, old, replacement string, fireAt time.Time) error {
	// Add before remove: a failure in between duplicates the job rather
	// than losing it, and handlers tolerate duplicates
	if err := s.rdb.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: replacement,
	}).Err(); err != nil {
		return err
	}
	return s.rdb.ZRem(ctx, scheduledKey, old).Err()
}

// RedisDispatcher stores due-times as sorted-set scores and claims due
// jobs by leasing: the claim pushes the score into the future instead
// of removing the member, so a worker crash mid-delivery only delays
// the job until the lease expires.
type RedisDispatcher struct {
	set          jobSet
	pollInterval time.Duration
	maxAttempts  int

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRedisDispatcher(rdb *redis.Client, pollInterval time.Duration, maxAttempts int) *RedisDispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &RedisDispatcher{
		set:          redisJobSet{rdb: rdb},
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		handlers:     make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Must be called before Run.
func (d *RedisDispatcher) Register(jobType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = h
}

// Enqueue schedules a job to fire after delay. The job survives process
// restarts. There is no cancellation path; handlers are expected to
// recognize already-terminal state and no-op.
func (d *RedisDispatcher) Enqueue(ctx context.Context, jobType string, payload interface{}, delay time.Duration) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	job := Job{
		ID:      newJobID(),
		Type:    jobType,
		Payload: data,
	}
	member, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	fireAt := time.Now().Add(delay)
	if err := d.set.Add(ctx, string(member), fireAt); err != nil {
		return "", fmt.Errorf("schedule job: %w", err)
	}

	log.Printf("[DISPATCH] Scheduled %s job %s (fires at %s)", jobType, job.ID, fireAt.Format(time.RFC3339))
	return job.ID, nil
}

// Run polls for due jobs until ctx is cancelled. Intended to be started
// once per process; multiple processes may run it concurrently against
// the same Redis.
func (d *RedisDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	log.Printf("[DISPATCH] Dispatcher worker started (poll every %v)", d.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[DISPATCH] Dispatcher worker stopped")
			return
		case <-ticker.C:
			d.deliverDue(ctx)
		}
	}
}

func (d *RedisDispatcher) deliverDue(ctx context.Context) {
	now := time.Now()
	members, err := d.set.Due(ctx, now)
	if err != nil {
		log.Printf("[DISPATCH] Failed to fetch due jobs: %v", err)
		return
	}

	for _, m := range members {
		claimed, err := d.set.Claim(ctx, m, now, now.Add(deliveryLease))
		if err != nil || !claimed {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			log.Printf("[DISPATCH] Dropping malformed job member: %v", err)
			if rerr := d.set.Complete(ctx, m); rerr != nil {
				log.Printf("[DISPATCH] Failed to drop malformed member: %v", rerr)
			}
			continue
		}

		d.dispatch(ctx, m, job)
	}
}

func (d *RedisDispatcher) dispatch(ctx context.Context, member string, job Job) {
	d.mu.RLock()
	handler, ok := d.handlers[job.Type]
	d.mu.RUnlock()

	if !ok {
		log.Printf("[DISPATCH] No handler for job type %s (job %s), dropping", job.Type, job.ID)
		if err := d.set.Complete(ctx, member); err != nil {
			log.Printf("[DISPATCH] Failed to drop job %s: %v", job.ID, err)
		}
		return
	}

	if err := handler(ctx, job.Payload); err != nil {
		job.Attempts++
		if job.Attempts >= d.maxAttempts {
			log.Printf("[DISPATCH] Job %s (%s) failed permanently after %d attempts: %v",
				job.ID, job.Type, job.Attempts, err)
			if rerr := d.set.Complete(ctx, member); rerr != nil {
				log.Printf("[DISPATCH] Failed to drop exhausted job %s: %v", job.ID, rerr)
			}
			return
		}

		backoff := retryBackoff(job.Attempts)
		log.Printf("[DISPATCH] Job %s (%s) failed (attempt %d), retrying in %v: %v",
			job.ID, job.Type, job.Attempts, backoff, err)

		replacement, merr := json.Marshal(job)
		if merr != nil {
			log.Printf("[DISPATCH] Failed to re-encode job %s: %v", job.ID, merr)
			return
		}
		if serr := d.set.Swap(ctx, member, string(replacement), time.Now().Add(backoff)); serr != nil {
			// The leased member stays put and resurfaces on expiry
			log.Printf("[DISPATCH] Failed to reschedule job %s: %v", job.ID, serr)
		}
		return
	}

	if err := d.set.Complete(ctx, member); err != nil {
		// The lease redelivers eventually; handlers tolerate that
		log.Printf("[DISPATCH] Failed to clear completed job %s: %v", job.ID, err)
		return
	}
	log.Printf("[DISPATCH] Job %s (%s) completed", job.ID, job.Type)
}

// retryBackoff doubles per attempt, capped at 5 minutes.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

func newJobID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("job_%d", time.Now().UnixNano())
	}
	return "job_" + hex.EncodeToString(b)
}
