/*
store.go - Persistence interfaces for the ledger and rollup tables

PURPOSE:
  Defines the interface between the rollup engine and the database.
  Implementations exist for SQLite (store/sqlite) and in-memory
  (rollup/store) - the same SQL shape applies to PostgreSQL.

OWNERSHIP:
  The Coordinator is the ONLY component that calls ApplyDelta. Everything
  else reads rollups through the query methods. This is enforced by
  convention at the package boundary: nothing outside this module receives
  a Store directly, only the Coordinator, Backfiller and resolver types.

TRANSACTIONS:
  Every coordinator operation and every backfill batch runs inside
  WithTx(fn). If fn returns an error the transaction rolls back and no
  partial rollup mutation is observable.

SEE ALSO:
  - coordinator.go: The single writer
  - store/sqlite/sqlite.go: Production implementation
  - store/memory.go: In-memory implementation for tests
*/
package rollup

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Receipt rows
// =============================================================================

// ReceiptFilter narrows ListReceipts. Zero fields are ignored.
type ReceiptFilter struct {
	CommitteeID CommitteeID
	TraderID    TraderID
	CommodityID CommodityID
	From        time.Time
	To          time.Time

	// IncludeCancelled keeps soft-deleted rows in the result.
	IncludeCancelled bool
}

// LedgerStore persists receipt rows. Rows are never physically deleted;
// cancellation is a flag flip handled by MarkCancelled.
type LedgerStore interface {
	InsertReceipt(ctx context.Context, r Receipt) error

	// InsertReceiptBatch inserts rows, silently skipping any whose
	// (committee, book number, receipt number) already exists. Returns the
	// number actually inserted. This makes re-running a backfill batch safe
	// at the ledger level; rollup increments are the caller's concern.
	InsertReceiptBatch(ctx context.Context, receipts []Receipt) (int, error)

	GetReceipt(ctx context.Context, id ReceiptID) (Receipt, error)

	// UpdateReceipt persists new field values for an existing row.
	UpdateReceipt(ctx context.Context, r Receipt) error

	// MarkCancelled flips the cancelled flag. The compensating rollup
	// adjustment is the Coordinator's job, in the same transaction.
	MarkCancelled(ctx context.Context, id ReceiptID) error

	ListReceipts(ctx context.Context, f ReceiptFilter) ([]Receipt, error)

	// ReceiptsForMonth returns the non-cancelled rows feeding a committee's
	// monthly rollups. Used by recompute.
	ReceiptsForMonth(ctx context.Context, committeeID CommitteeID, year int, month time.Month) ([]Receipt, error)
}

// =============================================================================
// REFERENCE STORE - Trader/commodity lookup-or-create
// =============================================================================

// ReferenceStore resolves trader and commodity names to IDs, creating the
// entity when absent. Resolution happens BEFORE any rollup mutation, inside
// the same transaction, so contribution keys are guaranteed valid.
type ReferenceStore interface {
	EnsureTrader(ctx context.Context, committeeID CommitteeID, name string) (TraderID, error)
	EnsureCommodity(ctx context.Context, name string) (CommodityID, error)
}

// =============================================================================
// ROLLUP STORE - Aggregate tables
// =============================================================================

// RollupStore maintains the denormalized aggregate tables.
type RollupStore interface {
	// ApplyDelta upserts the row addressed by key with increment semantics:
	// create-if-absent (seeding distinct counts and target snapshot), else
	// add the delta to every counter. A delta that would drive any counter
	// negative returns ConsistencyError and must abort the transaction.
	ApplyDelta(ctx context.Context, key RollupKey, delta Contribution) error

	GetDaily(ctx context.Context, key DailyKey) (DailyAnalytics, error)
	GetCommitteeMonthly(ctx context.Context, key CommitteeMonthKey) (CommitteeMonthlyAnalytics, error)
	GetTraderMonthly(ctx context.Context, key TraderMonthKey) (TraderMonthlyAnalytics, error)
	GetTraderOverall(ctx context.Context, key TraderOverallKey) (TraderOverallAnalytics, error)
	GetCommodityMonthly(ctx context.Context, key CommodityMonthKey) (CommodityMonthlyAnalytics, error)
	GetCommodityOverall(ctx context.Context, key CommodityOverallKey) (CommodityOverallAnalytics, error)

	// Range/list reads for dashboards and report export. Plain aggregate
	// reads, no side effects.
	QueryDaily(ctx context.Context, committeeID CommitteeID, from, to time.Time) ([]DailyAnalytics, error)
	ListCommitteeMonthly(ctx context.Context, committeeID CommitteeID, year int) ([]CommitteeMonthlyAnalytics, error)
	ListTraderMonthly(ctx context.Context, committeeID CommitteeID, year int, month time.Month) ([]TraderMonthlyAnalytics, error)
	ListCommodityMonthly(ctx context.Context, committeeID CommitteeID, year int, month time.Month) ([]CommodityMonthlyAnalytics, error)

	// DeleteMonthRollups clears the daily and monthly rows for one committee
	// month ahead of a recompute. Overall (all-time) rows are left alone.
	DeleteMonthRollups(ctx context.Context, committeeID CommitteeID, year int, month time.Month) error
}

// =============================================================================
// TARGET STORE
// =============================================================================

// TargetStore persists administratively-set targets. Receipt-driven writes
// never mutate targets.
type TargetStore interface {
	// SetTarget upserts a target for its scope and refreshes the target
	// snapshot on any existing committee monthly row for the same scope.
	SetTarget(ctx context.Context, t Target) error

	// GetActiveTarget returns the active target for the scope, or
	// ErrTargetNotFound. A missing target is "no target", never zero.
	GetActiveTarget(ctx context.Context, key TargetKey) (Target, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store bundles every persistence capability the engine needs.
type Store interface {
	LedgerStore
	ReferenceStore
	RollupStore
	TargetStore
}

// TxStore wraps Store with transaction support. All coordinator operations
// and backfill batches run through WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a database transaction. If fn returns an
	// error the transaction rolls back; otherwise it commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}
