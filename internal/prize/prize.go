package prize

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
)

// ErrInvariantViolation means the computed fee plus payouts would exceed
// the prize pool. Settlement must abort rather than record a wrong payout.
var ErrInvariantViolation = errors.New("settlement invariant violated: payouts exceed prize pool")

// moneyPlaces is the fixed-point precision for payout amounts.
const moneyPlaces = 8

// Result is the outcome of a distribution computation.
type Result struct {
	PlatformFee decimal.Decimal
	// Payouts maps 1-indexed rank to the amount owed. Ranks without a
	// configured share are absent.
	Payouts map[int]decimal.Decimal
}

// Total returns the platform fee plus all payouts.
func (r Result) Total() decimal.Decimal {
	total := r.PlatformFee
	for _, p := range r.Payouts {
		total = total.Add(p)
	}
	return total
}

// Distribute computes the platform fee and per-rank payouts for the
// given number of ranked players. Pure computation, no I/O.
//
// Amounts are truncated to 8 decimal places; any residual from rounding
// stays undistributed in the pool rather than being assigned to a rank.
func Distribute(prizePool, platformFeePercent decimal.Decimal, table models.PrizeDistribution, numRanked int) (Result, error) {
	if prizePool.IsNegative() {
		return Result{}, fmt.Errorf("prize pool must not be negative, got %s", prizePool)
	}
	if platformFeePercent.IsNegative() || platformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return Result{}, fmt.Errorf("platform fee percent out of range: %s", platformFeePercent)
	}

	hundred := decimal.NewFromInt(100)
	fee := prizePool.Mul(platformFeePercent).Div(hundred).Truncate(moneyPlaces)
	distributable := prizePool.Sub(fee)

	res := Result{
		PlatformFee: fee,
		Payouts:     make(map[int]decimal.Decimal),
	}

	for rank := 1; rank <= numRanked; rank++ {
		share := table.Share(rank)
		if share.LessThanOrEqual(decimal.Zero) {
			continue
		}
		payout := distributable.Mul(share).Div(hundred).Truncate(moneyPlaces)
		if payout.IsPositive() {
			res.Payouts[rank] = payout
		}
	}

	if res.Total().GreaterThan(prizePool) {
		return Result{}, fmt.Errorf("%w: fee %s + payouts total %s > pool %s",
			ErrInvariantViolation, fee, res.Total().Sub(fee), prizePool)
	}

	return res, nil
}
