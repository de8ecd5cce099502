package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/jobs"
	"github.com/skillplay/backend/internal/models"
	"github.com/skillplay/backend/internal/prize"
	"github.com/skillplay/backend/internal/store"
)

// Job payloads. Scheduled jobs deliver at least once with no ordering
// guarantee, so every handler here is idempotent: redelivery of an
// already-applied transition is a no-op.
type (
	StartPayload struct {
		TournamentID string `json:"tournament_id"`
	}
	EndPayload struct {
		TournamentID string `json:"tournament_id"`
	}
	RefundPayload struct {
		EntryID string `json:"entry_id"`
	}
)

const refEntry = "tournament_entry"

// RegisterHandlers binds the lifecycle transitions to their job types.
func (s *Service) RegisterHandlers(d *jobs.RedisDispatcher) {
	d.Register(jobs.TypeStartTournament, func(ctx context.Context, payload json.RawMessage) error {
		var p StartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Printf("[TOURNAMENT] Dropping malformed start payload: %v", err)
			return nil
		}
		return s.HandleStart(ctx, p.TournamentID)
	})
	d.Register(jobs.TypeEndTournament, func(ctx context.Context, payload json.RawMessage) error {
		var p EndPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Printf("[TOURNAMENT] Dropping malformed end payload: %v", err)
			return nil
		}
		return s.HandleEnd(ctx, p.TournamentID)
	})
	d.Register(jobs.TypeProcessRefund, func(ctx context.Context, payload json.RawMessage) error {
		var p RefundPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Printf("[TOURNAMENT] Dropping malformed refund payload: %v", err)
			return nil
		}
		return s.HandleRefund(ctx, p.EntryID)
	})
}

// HandleStart runs the scheduled start transition. Under-subscribed
// tournaments cancel and refund every entrant; otherwise the tournament
// goes IN_PROGRESS and confirmed entries start playing. Unpaid PENDING
// entries are released either way. A redelivery that finds the status
// already flipped resumes the follow-up sweeps instead of returning
// early, so a crash between the flip and the sweeps cannot strand
// entries; every sweep is predicate-guarded and safe to rerun.
func (s *Service) HandleStart(ctx context.Context, tournamentID string) error {
	for {
		t, err := s.store.GetTournament(ctx, tournamentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[TOURNAMENT] Start job for unknown tournament %s, dropping", tournamentID)
				return nil
			}
			return err
		}

		switch t.Status {
		case models.TournamentCompleted:
			return nil
		case models.TournamentCancelled:
			// A prior delivery may have flipped the status and failed
			// before finishing the refunds
			return s.refundAll(ctx, t)
		case models.TournamentInProgress:
			at := s.now()
			if t.ActualStart.Valid {
				at = t.ActualStart.Time
			}
			_, err := s.sweepStartedEntries(ctx, tournamentID, at)
			return err
		}

		if t.CurrentPlayers < t.MinPlayers {
			flipped, err := s.store.CancelUnderSubscribed(ctx, tournamentID)
			if err != nil {
				return err
			}
			if !flipped {
				// A late join reached the minimum, or another worker
				// moved the status first; read again and decide anew
				continue
			}
			log.Printf("[TOURNAMENT] Cancelled %s: %d/%d players at start time",
				tournamentID, t.CurrentPlayers, t.MinPlayers)

			if err := s.refundAll(ctx, t); err != nil {
				return err
			}
			if s.notifier != nil {
				s.notifier.NotifyStateChanged(tournamentID, models.TournamentCancelled)
			}
			return nil
		}

		now := s.now()
		flipped, err := s.store.MarkStarted(ctx, tournamentID, now)
		if err != nil {
			return err
		}
		if !flipped {
			// A leave dropped the pool below the minimum, or another
			// worker moved the status first; read again and decide anew
			continue
		}

		promoted, err := s.sweepStartedEntries(ctx, tournamentID, now)
		if err != nil {
			return err
		}

		log.Printf("[TOURNAMENT] Started %s with %d players", tournamentID, promoted)
		if s.notifier != nil {
			s.notifier.NotifyStateChanged(tournamentID, models.TournamentInProgress)
		}
		return nil
	}
}

// sweepStartedEntries moves paid entries into play and releases the
// unpaid ones. Entrants who never paid lose their seat when play
// begins; no refund obligation exists because nothing was collected.
func (s *Service) sweepStartedEntries(ctx context.Context, tournamentID string, at time.Time) (int, error) {
	promoted, err := s.store.PromoteEntries(ctx, tournamentID,
		models.EntryConfirmed, models.EntryPlaying, at)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.PromoteEntries(ctx, tournamentID,
		models.EntryPending, models.EntryRefunded, at); err != nil {
		return promoted, err
	}
	return promoted, nil
}

// HandleEnd settles a running tournament: ranks by score (earlier
// submission wins ties), computes the fee and payouts, writes results
// and ledger obligations, then flips COMPLETED. A payout-conservation
// failure aborts before any status change so the tournament stays
// IN_PROGRESS for operator intervention.
func (s *Service) HandleEnd(ctx context.Context, tournamentID string) error {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[TOURNAMENT] End job for unknown tournament %s, dropping", tournamentID)
			return nil
		}
		return err
	}

	switch t.Status {
	case models.TournamentCompleted, models.TournamentCancelled:
		return nil
	case models.TournamentInProgress:
	default:
		// The start transition has not run yet; retry via redelivery
		return fmt.Errorf("tournament %s not in progress yet (status %s)", tournamentID, t.Status)
	}

	scores, err := s.store.ListScoresRanked(ctx, tournamentID)
	if err != nil {
		return err
	}

	result, err := prize.Distribute(t.PrizePool, t.PlatformFeePercent, t.PrizeDistribution, len(scores))
	if err != nil {
		log.Printf("[TOURNAMENT] Settlement aborted for %s: %v", tournamentID, err)
		return err
	}

	now := s.now()
	for i, sc := range scores {
		rank := i + 1
		payout, paid := result.Payouts[rank]

		won := decimal.NullDecimal{}
		if paid {
			won = decimal.NullDecimal{Decimal: payout, Valid: true}
		}
		if err := s.store.SetEntryResult(ctx, tournamentID, sc.UserID, rank, won); err != nil {
			return err
		}
		if paid {
			if err := s.recordPrize(ctx, t, sc.UserID, payout); err != nil {
				return err
			}
		}
	}

	// Entrants who started but never submitted keep PLAYING until here
	if _, err := s.store.PromoteEntries(ctx, tournamentID,
		models.EntryPlaying, models.EntryCompleted, now); err != nil {
		return err
	}

	flipped, err := s.store.MarkCompleted(ctx, tournamentID, now, result.PlatformFee)
	if err != nil {
		return err
	}
	if !flipped {
		// A concurrent delivery settled first; its writes are identical
		return nil
	}

	for i, sc := range scores {
		earnings := decimal.Zero
		if payout, ok := result.Payouts[i+1]; ok {
			earnings = payout
		}
		if err := s.store.IncrementUserStats(ctx, sc.UserID, i == 0, earnings); err != nil {
			log.Printf("[TOURNAMENT] Failed to update stats for %s: %v", sc.UserID, err)
		}
	}

	log.Printf("[TOURNAMENT] Completed %s: %d ranked, fee %s, paid %d ranks",
		tournamentID, len(scores), result.PlatformFee, len(result.Payouts))
	if s.notifier != nil {
		s.notifier.NotifyStateChanged(tournamentID, models.TournamentCompleted)
		s.notifier.NotifyLeaderboardUpdated(tournamentID)
	}
	return nil
}

// recordPrize writes the PRIZE_WIN obligation for one winner. The
// entry-scoped reference plus the ledger's uniqueness guarantee keep
// this idempotent across redeliveries.
func (s *Service) recordPrize(ctx context.Context, t *models.Tournament, userID string, amount decimal.Decimal) error {
	entry, err := s.store.FindEntry(ctx, t.ID, userID)
	if err != nil {
		return err
	}

	exists, err := s.store.HasTransaction(ctx, models.TxPrizeWin, refEntry, entry.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx := &models.Transaction{
		ID:            newID("txn"),
		UserID:        userID,
		Type:          models.TxPrizeWin,
		Amount:        amount,
		Currency:      t.PrizeCurrency,
		Status:        models.TxPending,
		ReferenceType: nullString(refEntry),
		ReferenceID:   nullString(entry.ID),
		Description:   nullString(fmt.Sprintf("Prize for tournament %s", t.ID)),
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			return nil
		}
		return err
	}
	return nil
}

// HandleRefund materializes the refund obligation for a withdrawn paid
// entry. At most one REFUND row per entry regardless of redelivery.
func (s *Service) HandleRefund(ctx context.Context, entryID string) error {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[TOURNAMENT] Refund job for unknown entry %s, dropping", entryID)
			return nil
		}
		return err
	}

	exists, err := s.store.HasTransaction(ctx, models.TxRefund, refEntry, entry.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx := &models.Transaction{
		ID:            newID("txn"),
		UserID:        entry.UserID,
		Type:          models.TxRefund,
		Amount:        entry.EntryAmount,
		Currency:      entry.EntryCurrency,
		Status:        models.TxPending,
		ReferenceType: nullString(refEntry),
		ReferenceID:   nullString(entry.ID),
		Description:   nullString(fmt.Sprintf("Refund for tournament %s", entry.TournamentID)),
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			return nil
		}
		return err
	}

	log.Printf("[TOURNAMENT] Refund %s recorded for entry %s (%s %s)",
		tx.ID, entry.ID, entry.EntryAmount, entry.EntryCurrency)
	return nil
}

// refundAll settles a cancellation: paid entries get a refund
// obligation, unpaid entries just release. Safe to rerun; every write
// is guarded.
func (s *Service) refundAll(ctx context.Context, t *models.Tournament) error {
	entries, err := s.store.ListEntries(ctx, t.ID, "")
	if err != nil {
		return err
	}

	for i := range entries {
		e := &entries[i]
		switch e.Status {
		case models.EntryConfirmed:
			flipped, err := s.store.MarkEntryRefunded(ctx, e.ID, []string{models.EntryConfirmed})
			if err != nil {
				return err
			}
			if flipped {
				if err := s.HandleRefund(ctx, e.ID); err != nil {
					return err
				}
			}
		case models.EntryPending:
			if _, err := s.store.MarkEntryRefunded(ctx, e.ID, []string{models.EntryPending}); err != nil {
				return err
			}
		case models.EntryRefunded:
			// A prior partial run may have flipped the entry without
			// recording the obligation; recheck for paid entries
			if e.EntryTxHash.Valid {
				if err := s.HandleRefund(ctx, e.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
