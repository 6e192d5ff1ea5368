/*
coordinator.go - Transactional create/update/cancel against ledger + rollups

PURPOSE:
  The Coordinator is the single writer of the rollup tables. It owns the
  invariant-preserving transition between the ledger and the rollups:
  every rollup must, at every point in time, equal the sum of the
  still-active ledger rows it represents.

OPERATIONS:
  CreateReceipt:  insert ledger row, ApplyDelta(+contribution) everywhere
  UpdateReceipt:  ApplyDelta(-old) on OLD keys, ApplyDelta(+new) on NEW keys,
                  then persist the new field values
  CancelReceipt:  flip cancelled flag, ApplyDelta(-current)
  RecomputeMonth: rebuild one committee month's daily/monthly rows from the
                  non-cancelled ledger rows (restores exact distinct counts)

FAILURE SEMANTICS:
  Each operation is one database transaction. Any failing step - including
  trader/commodity resolution - rolls the whole thing back; no partial
  rollup mutation is ever observable. There are no internal retries.

REVERT-REAPPLY:
  On update, the revert targets rollup rows keyed by the OLD dimension
  values and the reapply targets rows keyed by the NEW ones. When a
  dimension changed (trader reassigned, date moved across a month boundary)
  these are different rows. This is mandatory, not an optimization.

SEE ALSO:
  - contribution.go: The pure deltas being applied
  - backfill.go: Batch writes through the same ApplyDelta primitive
*/
package rollup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECEIPT DRAFT - Validated input for create/update
// =============================================================================

// ReceiptDraft carries the caller-supplied fields of a receipt. Trader and
// commodity arrive as names and are resolved (lookup-or-create) inside the
// operation's transaction.
type ReceiptDraft struct {
	CommitteeID   CommitteeID
	CheckpostID   CheckpostID // optional
	TraderName    string
	CommodityName string

	BookNumber    string
	ReceiptNumber string

	Date     time.Time
	Value    decimal.Decimal
	FeesPaid decimal.Decimal
	WeightKg decimal.Decimal

	Nature   NatureOfReceipt
	Location CollectionLocation
}

// Validate rejects malformed drafts before any mutation is attempted.
func (d ReceiptDraft) Validate() error {
	switch {
	case d.CommitteeID == "":
		return &ValidationError{Field: "committeeId", Reason: "required"}
	case d.TraderName == "":
		return &ValidationError{Field: "traderName", Reason: "required"}
	case d.CommodityName == "":
		return &ValidationError{Field: "commodityName", Reason: "required"}
	case d.Date.IsZero():
		return &ValidationError{Field: "date", Reason: "required"}
	case d.Value.IsNegative():
		return &ValidationError{Field: "value", Reason: "must not be negative"}
	case d.FeesPaid.IsNegative():
		return &ValidationError{Field: "feesPaid", Reason: "must not be negative"}
	case d.WeightKg.IsNegative():
		return &ValidationError{Field: "totalWeightKg", Reason: "must not be negative"}
	case !d.Nature.Valid():
		return &ValidationError{Field: "natureOfReceipt", Reason: "unknown value " + string(d.Nature)}
	case !d.Location.Valid():
		return &ValidationError{Field: "collectionLocation", Reason: "unknown value " + string(d.Location)}
	}
	return nil
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator orchestrates ledger and rollup mutations. It is the only
// component allowed to call RollupStore.ApplyDelta.
type Coordinator struct {
	store TxStore
}

func NewCoordinator(store TxStore) *Coordinator {
	return &Coordinator{store: store}
}

// CreateReceipt inserts the receipt and applies its contribution to every
// rollup dimension, all in one transaction.
func (c *Coordinator) CreateReceipt(ctx context.Context, draft ReceiptDraft) (ReceiptID, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}

	id := ReceiptID(uuid.NewString())
	err := c.store.WithTx(ctx, func(s Store) error {
		r, err := resolveDraft(ctx, s, id, draft)
		if err != nil {
			return err
		}
		if err := s.InsertReceipt(ctx, r); err != nil {
			return err
		}
		return applyAll(ctx, s, r, ContributionOf(r))
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateReceipt replaces a receipt's fields, reverting the old contribution
// from the old rollup rows and applying the new contribution to the new ones.
func (c *Coordinator) UpdateReceipt(ctx context.Context, id ReceiptID, draft ReceiptDraft) error {
	if err := draft.Validate(); err != nil {
		return err
	}

	return c.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if existing.Cancelled {
			return ErrReceiptCancelled
		}

		// Resolve references for the NEW field values first, so both the
		// revert and the reapply run with guaranteed-valid IDs.
		updated, err := resolveDraft(ctx, s, id, draft)
		if err != nil {
			return err
		}
		updated.Cancelled = false
		updated.CreatedAt = existing.CreatedAt

		if err := applyAll(ctx, s, existing, ContributionOf(existing).Neg()); err != nil {
			return err
		}
		if err := applyAll(ctx, s, updated, ContributionOf(updated)); err != nil {
			return err
		}
		return s.UpdateReceipt(ctx, updated)
	})
}

// CancelReceipt soft-deletes a receipt and reverts its contribution. A
// cancelled receipt never contributes to any subsequent rollup read and is
// excluded from recompute. Cancelling twice returns ErrReceiptCancelled,
// never a double-decrement.
func (c *Coordinator) CancelReceipt(ctx context.Context, id ReceiptID) error {
	return c.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if existing.Cancelled {
			return ErrReceiptCancelled
		}
		if err := s.MarkCancelled(ctx, id); err != nil {
			return err
		}
		return applyAll(ctx, s, existing, ContributionOf(existing).Neg())
	})
}

// RecomputeMonth rebuilds one committee month's daily and monthly rollup
// rows from the non-cancelled ledger rows. This is the only path that
// restores exact distinct-trader/distinct-commodity counts; incremental
// maintenance leaves them best-effort. Overall (all-time) rows are not
// touched - they cannot be rebuilt from a single month.
func (c *Coordinator) RecomputeMonth(ctx context.Context, committeeID CommitteeID, year int, month time.Month) error {
	if committeeID == "" {
		return &ValidationError{Field: "committeeId", Reason: "required"}
	}

	return c.store.WithTx(ctx, func(s Store) error {
		receipts, err := s.ReceiptsForMonth(ctx, committeeID, year, month)
		if err != nil {
			return err
		}
		if err := s.DeleteMonthRollups(ctx, committeeID, year, month); err != nil {
			return err
		}
		if len(receipts) == 0 {
			return nil
		}

		// Committee row accumulates every receipt of the month; checkpost
		// rows accumulate only the receipts carrying that checkpost. The
		// two are independent shadow totals, not a partition.
		monthKey := CommitteeMonthKey{CommitteeID: committeeID, Year: year, Month: month}
		if err := s.ApplyDelta(ctx, monthKey, BatchContribution(receipts)); err != nil {
			return err
		}

		byDay := make(map[time.Time][]Receipt)
		byCheckpost := make(map[CheckpostID][]Receipt)
		byTrader := make(map[TraderID][]Receipt)
		byCommodity := make(map[CommodityID][]Receipt)
		for _, r := range receipts {
			d := Day(r.Date)
			byDay[d] = append(byDay[d], r)
			if r.CheckpostID != "" {
				byCheckpost[r.CheckpostID] = append(byCheckpost[r.CheckpostID], r)
			}
			byTrader[r.TraderID] = append(byTrader[r.TraderID], r)
			byCommodity[r.CommodityID] = append(byCommodity[r.CommodityID], r)
		}

		for d, group := range byDay {
			key := DailyKey{CommitteeID: committeeID, Date: d}
			if err := s.ApplyDelta(ctx, key, BatchContribution(group)); err != nil {
				return err
			}
		}
		for cp, group := range byCheckpost {
			key := CommitteeMonthKey{CommitteeID: committeeID, CheckpostID: cp, Year: year, Month: month}
			if err := s.ApplyDelta(ctx, key, BatchContribution(group)); err != nil {
				return err
			}
		}
		for tid, group := range byTrader {
			key := TraderMonthKey{TraderID: tid, CommitteeID: committeeID, Year: year, Month: month}
			if err := s.ApplyDelta(ctx, key, BatchContribution(group)); err != nil {
				return err
			}
		}
		for cid, group := range byCommodity {
			key := CommodityMonthKey{CommodityID: cid, CommitteeID: committeeID, Year: year, Month: month}
			if err := s.ApplyDelta(ctx, key, BatchContribution(group)); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// resolveDraft turns a draft into a full Receipt, creating trader/commodity
// entities as needed. Must run before any rollup mutation.
func resolveDraft(ctx context.Context, s Store, id ReceiptID, d ReceiptDraft) (Receipt, error) {
	traderID, err := s.EnsureTrader(ctx, d.CommitteeID, d.TraderName)
	if err != nil {
		return Receipt{}, &ReferenceResolutionError{Kind: "trader", Name: d.TraderName, Err: err}
	}
	commodityID, err := s.EnsureCommodity(ctx, d.CommodityName)
	if err != nil {
		return Receipt{}, &ReferenceResolutionError{Kind: "commodity", Name: d.CommodityName, Err: err}
	}

	now := time.Now().UTC()
	return Receipt{
		ID:            id,
		CommitteeID:   d.CommitteeID,
		CheckpostID:   d.CheckpostID,
		TraderID:      traderID,
		CommodityID:   commodityID,
		BookNumber:    d.BookNumber,
		ReceiptNumber: d.ReceiptNumber,
		Date:          Day(d.Date),
		Value:         d.Value,
		FeesPaid:      d.FeesPaid,
		WeightKg:      d.WeightKg,
		Nature:        d.Nature,
		Location:      d.Location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// applyAll applies one delta to every rollup row the receipt contributes to.
func applyAll(ctx context.Context, s Store, r Receipt, delta Contribution) error {
	for _, key := range KeysFor(r) {
		if err := s.ApplyDelta(ctx, key, delta); err != nil {
			return err
		}
	}
	return nil
}
