/*
backfill.go - Bulk historical (re)population of ledger and rollups

PURPOSE:
  Seeds rollups from historical receipt data, grouped by (committee, day).
  Each day batch runs in one transaction and mirrors the single-record
  increments at batch granularity: one ApplyDelta per rollup row instead of
  one per receipt.

IDEMPOTENCY:
  Ledger inserts are duplicate-safe: a row whose (committee, book number,
  receipt number) already exists is skipped. Rollup increments are NOT
  deduplicated - re-running an already-applied batch double-increments
  rollups. Callers must guarantee each batch is processed at most once, or
  follow up with RecomputeMonth. Documented operational constraint, not
  enforced here.

CONCURRENCY:
  Backfill runs offline, out-of-band with single-record mutations for the
  same committee. Batches for DIFFERENT committees touch disjoint rollup
  rows and fan out across a bounded worker pool; batches within one
  committee share monthly rows and run sequentially.

DISTINCT COUNTS:
  A rollup row created by a batch gets that batch's own distinct counts.
  Later batches landing on the same row do not correct them; only a
  recompute does. Documented limitation.

SEE ALSO:
  - coordinator.go: Single-record path through the same ApplyDelta primitive
  - cmd/backfill: Offline driver
*/
package rollup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultBackfillWorkers bounds the per-committee fan-out of RunAll.
const DefaultBackfillWorkers = 4

// =============================================================================
// DAY BATCH
// =============================================================================

// DayBatch is one (committee, day) group of historical receipts.
type DayBatch struct {
	Date     time.Time
	Receipts []ReceiptDraft
}

// =============================================================================
// BACKFILLER
// =============================================================================

// Backfiller replays historical receipts into the ledger and rollups.
type Backfiller struct {
	store   TxStore
	workers int
	log     zerolog.Logger
}

func NewBackfiller(store TxStore, workers int, log zerolog.Logger) *Backfiller {
	if workers <= 0 {
		workers = DefaultBackfillWorkers
	}
	return &Backfiller{store: store, workers: workers, log: log}
}

// Run processes one committee's day batches sequentially. Batches within a
// committee share monthly rollup rows, so they never run concurrently.
func (b *Backfiller) Run(ctx context.Context, committeeID CommitteeID, batches []DayBatch) error {
	if committeeID == "" {
		return &ValidationError{Field: "committeeId", Reason: "required"}
	}
	for _, batch := range batches {
		if err := b.runBatch(ctx, committeeID, batch); err != nil {
			return err
		}
	}
	return nil
}

// RunAll fans out across committees with a bounded worker pool. Different
// committees touch disjoint rollup rows, so their batches may interleave.
func (b *Backfiller) RunAll(ctx context.Context, batches map[CommitteeID][]DayBatch) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for committeeID, committeeBatches := range batches {
		committeeID, committeeBatches := committeeID, committeeBatches
		g.Go(func() error {
			return b.Run(ctx, committeeID, committeeBatches)
		})
	}
	return g.Wait()
}

// runBatch applies one (committee, day) batch inside one transaction.
func (b *Backfiller) runBatch(ctx context.Context, committeeID CommitteeID, batch DayBatch) error {
	if batch.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	day := Day(batch.Date)

	return b.store.WithTx(ctx, func(s Store) error {
		receipts := make([]Receipt, 0, len(batch.Receipts))
		for _, draft := range batch.Receipts {
			draft.CommitteeID = committeeID
			draft.Date = day
			if err := draft.Validate(); err != nil {
				return err
			}
			r, err := resolveDraft(ctx, s, ReceiptID(uuid.NewString()), draft)
			if err != nil {
				return err
			}
			receipts = append(receipts, r)
		}

		inserted, err := s.InsertReceiptBatch(ctx, receipts)
		if err != nil {
			return err
		}

		if err := applyBatch(ctx, s, committeeID, day, receipts); err != nil {
			return err
		}

		b.log.Info().
			Str("committee", string(committeeID)).
			Str("date", day.Format("2006-01-02")).
			Int("rows", len(receipts)).
			Int("inserted", inserted).
			Msg("backfilled day batch")
		return nil
	})
}

// applyBatch mirrors the single-record rollup increments at batch
// granularity: whole-batch deltas for the daily and committee rows,
// sub-batch deltas per checkpost, trader and commodity.
func applyBatch(ctx context.Context, s Store, committeeID CommitteeID, day time.Time, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	year, month := day.Year(), day.Month()

	whole := BatchContribution(receipts)
	if err := s.ApplyDelta(ctx, DailyKey{CommitteeID: committeeID, Date: day}, whole); err != nil {
		return err
	}
	monthKey := CommitteeMonthKey{CommitteeID: committeeID, Year: year, Month: month}
	if err := s.ApplyDelta(ctx, monthKey, whole); err != nil {
		return err
	}

	byCheckpost := make(map[CheckpostID][]Receipt)
	byTrader := make(map[TraderID][]Receipt)
	byCommodity := make(map[CommodityID][]Receipt)
	for _, r := range receipts {
		if r.CheckpostID != "" {
			byCheckpost[r.CheckpostID] = append(byCheckpost[r.CheckpostID], r)
		}
		byTrader[r.TraderID] = append(byTrader[r.TraderID], r)
		byCommodity[r.CommodityID] = append(byCommodity[r.CommodityID], r)
	}

	for cp, group := range byCheckpost {
		key := CommitteeMonthKey{CommitteeID: committeeID, CheckpostID: cp, Year: year, Month: month}
		if err := s.ApplyDelta(ctx, key, BatchContribution(group)); err != nil {
			return err
		}
	}
	for tid, group := range byTrader {
		delta := BatchContribution(group)
		if err := s.ApplyDelta(ctx, TraderMonthKey{TraderID: tid, CommitteeID: committeeID, Year: year, Month: month}, delta); err != nil {
			return err
		}
		if err := s.ApplyDelta(ctx, TraderOverallKey{TraderID: tid, CommitteeID: committeeID}, delta); err != nil {
			return err
		}
	}
	for cid, group := range byCommodity {
		delta := BatchContribution(group)
		if err := s.ApplyDelta(ctx, CommodityMonthKey{CommodityID: cid, CommitteeID: committeeID, Year: year, Month: month}, delta); err != nil {
			return err
		}
		if err := s.ApplyDelta(ctx, CommodityOverallKey{CommodityID: cid, CommitteeID: committeeID}, delta); err != nil {
			return err
		}
	}
	return nil
}
