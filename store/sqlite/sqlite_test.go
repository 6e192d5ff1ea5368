package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimark/receipt-engine/rollup"
	"github.com/agrimark/receipt-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testDraft(trader, commodity string, date time.Time, value, fees, weight string) rollup.ReceiptDraft {
	return rollup.ReceiptDraft{
		CommitteeID:   "C1",
		TraderName:    trader,
		CommodityName: commodity,
		Date:          date,
		Value:         dec(value),
		FeesPaid:      dec(fees),
		WeightKg:      dec(weight),
		Nature:        rollup.NatureMarketFee,
		Location:      rollup.LocationOffice,
	}
}

var june15 = time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)

// =============================================================================
// END-TO-END THROUGH THE COORDINATOR
// =============================================================================

func TestSQLite_CreateReceiptRollsUpEverywhere(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: Creating a receipt with value 1000 and fees 50
	// THEN: Daily and monthly rows both show the totals, decimals exact

	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	_, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "1000", "50.25", "250.5"))
	require.NoError(t, err)

	daily, err := s.GetDaily(ctx, rollup.DailyKey{CommitteeID: "C1", Date: june15})
	require.NoError(t, err)
	assert.True(t, daily.Fees.Equal(dec("50.25")), "got %s", daily.Fees)
	assert.True(t, daily.WeightKg.Equal(dec("250.5")))
	assert.True(t, daily.FeesByNature[rollup.NatureMarketFee].Equal(dec("50.25")))
	assert.True(t, daily.FeesByLocation[rollup.LocationOffice].Equal(dec("50.25")))

	monthly, err := s.GetCommitteeMonthly(ctx, rollup.CommitteeMonthKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	assert.Equal(t, int64(1), monthly.Receipts)
	assert.True(t, monthly.Value.Equal(dec("1000")))
}

func TestSQLite_UpdateReceiptRevertsAndReapplies(t *testing.T) {
	// GIVEN: A receipt with fees 50
	// WHEN: Updating fees to 80
	// THEN: Monthly fees are 80, not 130

	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	id, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "1000", "50", "250"))
	require.NoError(t, err)
	require.NoError(t, coord.UpdateReceipt(ctx, id, testDraft("T1", "wheat", june15, "1000", "80", "250")))

	monthly, err := s.GetCommitteeMonthly(ctx, rollup.CommitteeMonthKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	assert.True(t, monthly.Fees.Equal(dec("80")), "got %s", monthly.Fees)
}

func TestSQLite_CancelReceiptZeroesTraderOverall(t *testing.T) {
	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	id, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "200", "10", "50"))
	require.NoError(t, err)
	require.NoError(t, coord.CancelReceipt(ctx, id))

	traderID, err := s.EnsureTrader(ctx, "C1", "T1")
	require.NoError(t, err)
	overall, err := s.GetTraderOverall(ctx, rollup.TraderOverallKey{TraderID: traderID, CommitteeID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), overall.Receipts)
	assert.True(t, overall.Value.IsZero())

	err = coord.CancelReceipt(ctx, id)
	assert.ErrorIs(t, err, rollup.ErrReceiptCancelled)
}

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a receipt and a rollup delta
	// WHEN: The callback fails
	// THEN: Nothing is visible afterwards

	s := newTestStore(t)
	ctx := context.Background()

	r := rollup.Receipt{
		ID: "r-1", CommitteeID: "C1", TraderID: "t-1", CommodityID: "c-1",
		Date: june15, Value: dec("100"), FeesPaid: dec("10"), WeightKg: dec("5"),
		Nature: rollup.NatureMarketFee, Location: rollup.LocationOffice,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	err := s.WithTx(ctx, func(tx rollup.Store) error {
		if err := tx.InsertReceipt(ctx, r); err != nil {
			return err
		}
		if err := tx.ApplyDelta(ctx, rollup.DailyKey{CommitteeID: "C1", Date: june15}, rollup.ContributionOf(r)); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.GetReceipt(ctx, "r-1")
	assert.ErrorIs(t, err, rollup.ErrReceiptNotFound)
	_, err = s.GetDaily(ctx, rollup.DailyKey{CommitteeID: "C1", Date: june15})
	assert.ErrorIs(t, err, rollup.ErrRollupNotFound)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestSQLite_DuplicateReceiptNumberRejected(t *testing.T) {
	// GIVEN: An inserted receipt with (C1, B1, 001)
	// WHEN: Inserting another row with the same natural key
	// THEN: ErrDuplicateReceipt; batch insert skips it instead

	s := newTestStore(t)
	ctx := context.Background()

	base := rollup.Receipt{
		CommitteeID: "C1", TraderID: "t-1", CommodityID: "c-1",
		BookNumber: "B1", ReceiptNumber: "001",
		Date: june15, Value: dec("100"), FeesPaid: dec("10"), WeightKg: dec("5"),
		Nature: rollup.NatureMarketFee, Location: rollup.LocationOffice,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	first := base
	first.ID = "r-1"
	require.NoError(t, s.InsertReceipt(ctx, first))

	second := base
	second.ID = "r-2"
	err := s.InsertReceipt(ctx, second)
	assert.ErrorIs(t, err, rollup.ErrDuplicateReceipt)

	inserted, err := s.InsertReceiptBatch(ctx, []rollup.Receipt{second})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestSQLite_ListReceiptsFilters(t *testing.T) {
	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	id1, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "100", "10", "5"))
	require.NoError(t, err)
	_, err = coord.CreateReceipt(ctx, testDraft("T2", "rice", june15.AddDate(0, 0, 5), "200", "20", "5"))
	require.NoError(t, err)
	require.NoError(t, coord.CancelReceipt(ctx, id1))

	active, err := s.ListReceipts(ctx, rollup.ReceiptFilter{CommitteeID: "C1"})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := s.ListReceipts(ctx, rollup.ReceiptFilter{CommitteeID: "C1", IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ranged, err := s.ListReceipts(ctx, rollup.ReceiptFilter{
		CommitteeID: "C1", From: june15.AddDate(0, 0, 1), To: june15.AddDate(0, 0, 10),
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}

// =============================================================================
// TARGETS
// =============================================================================

func TestSQLite_TargetSnapshotOnMonthlyRowCreation(t *testing.T) {
	// GIVEN: An active target set before any receipt
	// WHEN: The first receipt creates the monthly row
	// THEN: The row carries the denormalized target snapshot

	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	require.NoError(t, s.SetTarget(ctx, rollup.Target{
		CommitteeID: "C1", Year: 2025, Month: time.June,
		MarketFeeTarget: dec("1000"), IsActive: true,
	}))

	_, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "100", "10", "5"))
	require.NoError(t, err)

	monthly, err := s.GetCommitteeMonthly(ctx, rollup.CommitteeMonthKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	require.NotNil(t, monthly.FeeTarget)
	assert.True(t, monthly.FeeTarget.Equal(dec("1000")))
}

func TestSQLite_SetTargetRefreshesExistingMonthlyRow(t *testing.T) {
	// GIVEN: A monthly row created with no target
	// WHEN: Setting a target afterwards
	// THEN: The snapshot on the existing row is refreshed

	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	_, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "100", "10", "5"))
	require.NoError(t, err)

	require.NoError(t, s.SetTarget(ctx, rollup.Target{
		CommitteeID: "C1", Year: 2025, Month: time.June,
		MarketFeeTarget: dec("500"), IsActive: true,
	}))

	monthly, err := s.GetCommitteeMonthly(ctx, rollup.CommitteeMonthKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	require.NotNil(t, monthly.FeeTarget)
	assert.True(t, monthly.FeeTarget.Equal(dec("500")))

	// Upsert replaces, not duplicates.
	require.NoError(t, s.SetTarget(ctx, rollup.Target{
		CommitteeID: "C1", Year: 2025, Month: time.June,
		MarketFeeTarget: dec("750"), IsActive: true,
	}))
	target, err := s.GetActiveTarget(ctx, rollup.TargetKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	assert.True(t, target.MarketFeeTarget.Equal(dec("750")))
}

func TestSQLite_GetActiveTargetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetActiveTarget(context.Background(), rollup.TargetKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	assert.ErrorIs(t, err, rollup.ErrTargetNotFound)
}

// =============================================================================
// RANGE READS + RECOMPUTE
// =============================================================================

func TestSQLite_QueryDailyRange(t *testing.T) {
	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15.AddDate(0, 0, i*2), "100", "10", "5"))
		require.NoError(t, err)
	}

	daily, err := s.QueryDaily(ctx, "C1", june15, june15.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, june15, daily[0].Date)
	assert.True(t, daily[0].Date.Before(daily[1].Date))
}

func TestSQLite_RecomputeMonthRestoresDistinctCounts(t *testing.T) {
	s := newTestStore(t)
	coord := rollup.NewCoordinator(s)
	ctx := context.Background()

	_, err := coord.CreateReceipt(ctx, testDraft("T1", "wheat", june15, "100", "10", "5"))
	require.NoError(t, err)
	id2, err := coord.CreateReceipt(ctx, testDraft("T2", "rice", june15, "200", "20", "5"))
	require.NoError(t, err)
	require.NoError(t, coord.CancelReceipt(ctx, id2))

	require.NoError(t, coord.RecomputeMonth(ctx, "C1", 2025, time.June))

	monthly, err := s.GetCommitteeMonthly(ctx, rollup.CommitteeMonthKey{CommitteeID: "C1", Year: 2025, Month: time.June})
	require.NoError(t, err)
	assert.Equal(t, int64(1), monthly.DistinctTraders)
	assert.Equal(t, int64(1), monthly.DistinctCommodities)
	assert.True(t, monthly.Fees.Equal(dec("10")))

	lists, err := s.ListTraderMonthly(ctx, "C1", 2025, time.June)
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}
