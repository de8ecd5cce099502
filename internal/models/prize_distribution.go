package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// PrizeDistribution maps a 1-indexed final rank to its percent share of
// the distributable pool. Stored as JSONB with string keys; validated at
// tournament creation so bad tables never reach settlement.
type PrizeDistribution map[int]decimal.Decimal

// Validate rejects non-positive ranks, non-positive shares and tables
// whose shares sum to more than 100.
func (pd PrizeDistribution) Validate() error {
	if len(pd) == 0 {
		return fmt.Errorf("prize distribution is empty")
	}
	total := decimal.Zero
	for rank, share := range pd {
		if rank < 1 {
			return fmt.Errorf("prize distribution rank %d is not a positive integer", rank)
		}
		if share.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("prize distribution share for rank %d must be positive", rank)
		}
		total = total.Add(share)
	}
	if total.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("prize distribution shares sum to %s, exceeding 100", total)
	}
	return nil
}

// Share returns the configured percent for a rank, zero if absent.
func (pd PrizeDistribution) Share(rank int) decimal.Decimal {
	if s, ok := pd[rank]; ok {
		return s
	}
	return decimal.Zero
}

func (pd PrizeDistribution) MarshalJSON() ([]byte, error) {
	m := make(map[string]decimal.Decimal, len(pd))
	for rank, share := range pd {
		m[strconv.Itoa(rank)] = share
	}
	return json.Marshal(m)
}

func (pd *PrizeDistribution) UnmarshalJSON(data []byte) error {
	var m map[string]decimal.Decimal
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(PrizeDistribution, len(m))
	for k, share := range m {
		rank, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("prize distribution rank %q is not an integer", k)
		}
		out[rank] = share
	}
	*pd = out
	return nil
}

// Value implements driver.Valuer for JSONB storage
func (pd PrizeDistribution) Value() (driver.Value, error) {
	b, err := pd.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB storage
func (pd *PrizeDistribution) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return pd.UnmarshalJSON(v)
	case string:
		return pd.UnmarshalJSON([]byte(v))
	case nil:
		*pd = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into PrizeDistribution", src)
	}
}
