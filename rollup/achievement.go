/*
achievement.go - Target vs. collected-fee achievement, computed on demand

PURPOSE:
  Read-only join of the Target table and CommitteeMonthlyAnalytics. Never
  mutates state. A missing or zero target means "no percentage", never a
  division by zero or an infinite value.
*/
package rollup

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Achievement is the result of comparing collected fees against a target.
// Percent is nil when no usable target exists for the scope.
type Achievement struct {
	CommitteeID CommitteeID
	CheckpostID CheckpostID
	Year        int
	Month       time.Month

	Achieved decimal.Decimal
	Target   *decimal.Decimal
	Percent  *int64
}

// AchievementResolver computes target achievement from rollups + targets.
type AchievementResolver struct {
	store Store
}

func NewAchievementResolver(store Store) *AchievementResolver {
	return &AchievementResolver{store: store}
}

// GetAchievement returns collected fees, the active target (if any) and the
// achievement percentage, capped at 100.
func (r *AchievementResolver) GetAchievement(ctx context.Context, committeeID CommitteeID, checkpostID CheckpostID, year int, month time.Month) (Achievement, error) {
	if committeeID == "" {
		return Achievement{}, &ValidationError{Field: "committeeId", Reason: "required"}
	}

	result := Achievement{
		CommitteeID: committeeID,
		CheckpostID: checkpostID,
		Year:        year,
		Month:       month,
	}

	monthly, err := r.store.GetCommitteeMonthly(ctx, CommitteeMonthKey{
		CommitteeID: committeeID,
		CheckpostID: checkpostID,
		Year:        year,
		Month:       month,
	})
	switch {
	case err == nil:
		result.Achieved = monthly.Fees
	case errors.Is(err, ErrRollupNotFound):
		// No contributions yet: achieved stays zero.
	default:
		return Achievement{}, err
	}

	target, err := r.store.GetActiveTarget(ctx, TargetKey{
		CommitteeID: committeeID,
		CheckpostID: checkpostID,
		Year:        year,
		Month:       month,
	})
	switch {
	case errors.Is(err, ErrTargetNotFound):
		return result, nil
	case err != nil:
		return Achievement{}, err
	}

	t := target.MarketFeeTarget
	result.Target = &t
	if t.IsZero() || t.IsNegative() {
		return result, nil
	}

	pct := result.Achieved.Mul(oneHundred).Div(t).Round(0).IntPart()
	if pct > 100 {
		pct = 100
	}
	result.Percent = &pct
	return result, nil
}
