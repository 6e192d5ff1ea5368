/*
contribution.go - Pure contribution calculation

PURPOSE:
  Derives the numeric delta a receipt (or a batch of receipts) adds to a
  rollup row. Contributions are pure values: computing one has no side
  effects and never fails. Malformed numeric input is rejected upstream by
  ledger validation, not here.

THE REVERT-REAPPLY PRIMITIVE:
  Create, update and cancel are all built from the same operation:

    ApplyDelta(key, +ContributionOf(receipt))   // create
    ApplyDelta(key, -ContributionOf(old))       // first half of update, cancel
    ApplyDelta(key, +ContributionOf(new))       // second half of update

  Keeping all three paths on one primitive is what prevents rollups from
  silently drifting away from the ledger.

DISTINCT COUNTS:
  DistinctTraders/DistinctCommodities on a batch contribution are scoped to
  that batch's rows only. They are written to a rollup row on first creation
  and never incremented afterwards; exact values require a recompute.

SEE ALSO:
  - coordinator.go: Applies contributions transactionally
  - backfill.go: Uses the batch form
*/
package rollup

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTRIBUTION - The delta one receipt or batch adds to a rollup row
// =============================================================================

type Contribution struct {
	Receipts int64
	Value    decimal.Decimal
	Fees     decimal.Decimal
	WeightKg decimal.Decimal

	FeesByNature   map[NatureOfReceipt]decimal.Decimal
	FeesByLocation map[CollectionLocation]decimal.Decimal

	// Batch-scoped distinct counts. Only consulted when a rollup row is
	// first created; a bare counter cannot track set cardinality.
	DistinctTraders     int64
	DistinctCommodities int64

	// Contributing date range, for first/last transaction tracking on the
	// overall rollups.
	EarliestDate time.Time
	LatestDate   time.Time
}

// ContributionOf returns the contribution of a single receipt.
func ContributionOf(r Receipt) Contribution {
	day := Day(r.Date)
	return Contribution{
		Receipts: 1,
		Value:    r.Value,
		Fees:     r.FeesPaid,
		WeightKg: r.WeightKg,
		FeesByNature: map[NatureOfReceipt]decimal.Decimal{
			r.Nature: r.FeesPaid,
		},
		FeesByLocation: map[CollectionLocation]decimal.Decimal{
			r.Location: r.FeesPaid,
		},
		DistinctTraders:     1,
		DistinctCommodities: 1,
		EarliestDate:        day,
		LatestDate:          day,
	}
}

// BatchContribution aggregates a slice of receipts into one contribution.
// Distinct counts reflect the unique trader/commodity IDs within this batch
// only, not global cardinality.
func BatchContribution(receipts []Receipt) Contribution {
	c := Contribution{
		FeesByNature:   make(map[NatureOfReceipt]decimal.Decimal),
		FeesByLocation: make(map[CollectionLocation]decimal.Decimal),
	}
	traders := make(map[TraderID]struct{})
	commodities := make(map[CommodityID]struct{})

	for _, r := range receipts {
		day := Day(r.Date)
		c.Receipts++
		c.Value = c.Value.Add(r.Value)
		c.Fees = c.Fees.Add(r.FeesPaid)
		c.WeightKg = c.WeightKg.Add(r.WeightKg)
		c.FeesByNature[r.Nature] = c.FeesByNature[r.Nature].Add(r.FeesPaid)
		c.FeesByLocation[r.Location] = c.FeesByLocation[r.Location].Add(r.FeesPaid)
		traders[r.TraderID] = struct{}{}
		commodities[r.CommodityID] = struct{}{}

		if c.EarliestDate.IsZero() || day.Before(c.EarliestDate) {
			c.EarliestDate = day
		}
		if day.After(c.LatestDate) {
			c.LatestDate = day
		}
	}

	c.DistinctTraders = int64(len(traders))
	c.DistinctCommodities = int64(len(commodities))
	return c
}

// Neg returns the revert delta: all counters and sums negated.
// Distinct counts are zeroed rather than negated - membership is unknown, so
// a revert never adjusts them (they stay best-effort until a recompute).
func (c Contribution) Neg() Contribution {
	n := Contribution{
		Receipts:     -c.Receipts,
		Value:        c.Value.Neg(),
		Fees:         c.Fees.Neg(),
		WeightKg:     c.WeightKg.Neg(),
		EarliestDate: c.EarliestDate,
		LatestDate:   c.LatestDate,
	}
	if len(c.FeesByNature) > 0 {
		n.FeesByNature = make(map[NatureOfReceipt]decimal.Decimal, len(c.FeesByNature))
		for k, v := range c.FeesByNature {
			n.FeesByNature[k] = v.Neg()
		}
	}
	if len(c.FeesByLocation) > 0 {
		n.FeesByLocation = make(map[CollectionLocation]decimal.Decimal, len(c.FeesByLocation))
		for k, v := range c.FeesByLocation {
			n.FeesByLocation[k] = v.Neg()
		}
	}
	return n
}

// IsRevert reports whether the contribution subtracts from rollup counters.
func (c Contribution) IsRevert() bool { return c.Receipts < 0 }
