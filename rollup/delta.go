/*
delta.go - Shared increment semantics for RollupStore implementations

PURPOSE:
  Both the SQLite and the in-memory store apply contributions the same way:
  create-if-absent-else-increment, with negative results treated as fatal.
  The arithmetic lives here so the two implementations cannot drift.

CONSISTENCY:
  A delta that would drive any counter negative returns ConsistencyError.
  The store must let that error abort the enclosing transaction; clamping
  to zero would silently corrupt the ledger/rollup invariant.
*/
package rollup

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckCreatable guards row creation: a revert delta may never create a
// rollup row, because there is nothing to subtract from.
func CheckCreatable(key RollupKey, delta Contribution) error {
	if delta.IsRevert() {
		return &ConsistencyError{Key: key.String(), Counter: "totalReceipts", Result: decimal.NewFromInt(delta.Receipts)}
	}
	return nil
}

// SumsOf extracts the count/sum shape of a contribution, for row creation.
func SumsOf(delta Contribution) Sums {
	return Sums{
		Receipts: delta.Receipts,
		Value:    delta.Value,
		Fees:     delta.Fees,
		WeightKg: delta.WeightKg,
	}
}

// ApplySums increments sums in place, rejecting any negative result.
func ApplySums(key RollupKey, sums *Sums, delta Contribution) error {
	next := Sums{
		Receipts: sums.Receipts + delta.Receipts,
		Value:    sums.Value.Add(delta.Value),
		Fees:     sums.Fees.Add(delta.Fees),
		WeightKg: sums.WeightKg.Add(delta.WeightKg),
	}
	switch {
	case next.Receipts < 0:
		return &ConsistencyError{Key: key.String(), Counter: "totalReceipts", Result: decimal.NewFromInt(next.Receipts)}
	case next.Value.IsNegative():
		return &ConsistencyError{Key: key.String(), Counter: "totalValue", Result: next.Value}
	case next.Fees.IsNegative():
		return &ConsistencyError{Key: key.String(), Counter: "totalFeesPaid", Result: next.Fees}
	case next.WeightKg.IsNegative():
		return &ConsistencyError{Key: key.String(), Counter: "totalWeightKg", Result: next.WeightKg}
	}
	*sums = next
	return nil
}

// ApplyFeeBuckets increments the per-nature and per-location fee sub-sums
// in place. Both maps must be non-nil.
func ApplyFeeBuckets(key RollupKey, byNature map[NatureOfReceipt]decimal.Decimal, byLocation map[CollectionLocation]decimal.Decimal, delta Contribution) error {
	for n, v := range delta.FeesByNature {
		next := byNature[n].Add(v)
		if next.IsNegative() {
			return &ConsistencyError{Key: key.String(), Counter: "fees." + string(n), Result: next}
		}
		byNature[n] = next
	}
	for l, v := range delta.FeesByLocation {
		next := byLocation[l].Add(v)
		if next.IsNegative() {
			return &ConsistencyError{Key: key.String(), Counter: "fees." + string(l), Result: next}
		}
		byLocation[l] = next
	}
	return nil
}

// AdvanceLastDate moves a last-transaction date forward by max() comparison
// only, so out-of-order backfill cannot rewind it. Reverts leave dates
// untouched: cancelling the latest receipt keeps the old high-water mark.
func AdvanceLastDate(last *time.Time, delta Contribution) {
	if delta.IsRevert() {
		return
	}
	if delta.LatestDate.After(*last) {
		*last = delta.LatestDate
	}
}
