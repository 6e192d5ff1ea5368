package rollup_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agrimark/receipt-engine/rollup"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testReceipt(id, trader, commodity string, date time.Time, value, fees, weight string) rollup.Receipt {
	return rollup.Receipt{
		ID:          rollup.ReceiptID(id),
		CommitteeID: "C1",
		TraderID:    rollup.TraderID(trader),
		CommodityID: rollup.CommodityID(commodity),
		Date:        rollup.Day(date),
		Value:       dec(value),
		FeesPaid:    dec(fees),
		WeightKg:    dec(weight),
		Nature:      rollup.NatureMarketFee,
		Location:    rollup.LocationOffice,
	}
}

// =============================================================================
// SINGLE-RECEIPT CONTRIBUTION
// =============================================================================

func TestContributionOf_SingleReceipt(t *testing.T) {
	// GIVEN: A receipt with value 1000, fees 50
	// WHEN: Computing its contribution
	// THEN: Counts, sums and fee buckets reflect exactly that receipt

	june15 := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	r := testReceipt("r-1", "T1", "wheat", june15, "1000", "50", "250")

	c := rollup.ContributionOf(r)

	assert.Equal(t, int64(1), c.Receipts)
	assert.True(t, c.Value.Equal(dec("1000")))
	assert.True(t, c.Fees.Equal(dec("50")))
	assert.True(t, c.WeightKg.Equal(dec("250")))
	assert.True(t, c.FeesByNature[rollup.NatureMarketFee].Equal(dec("50")))
	assert.True(t, c.FeesByLocation[rollup.LocationOffice].Equal(dec("50")))
	assert.Equal(t, int64(1), c.DistinctTraders)
	assert.Equal(t, int64(1), c.DistinctCommodities)
	assert.Equal(t, june15, c.EarliestDate)
	assert.Equal(t, june15, c.LatestDate)
	assert.False(t, c.IsRevert())
}

// =============================================================================
// BATCH CONTRIBUTION
// =============================================================================

func TestBatchContribution_DistinctCountsAndDates(t *testing.T) {
	// GIVEN: Three receipts, two traders, one commodity, across two days
	// WHEN: Computing the batch contribution
	// THEN: Distinct counts are batch-scoped, dates span the batch

	day1 := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, time.June, 12, 0, 0, 0, 0, time.UTC)
	receipts := []rollup.Receipt{
		testReceipt("r-1", "T1", "wheat", day2, "100", "10", "50"),
		testReceipt("r-2", "T2", "wheat", day1, "200", "20", "60"),
		testReceipt("r-3", "T1", "wheat", day1, "300", "30", "70"),
	}

	c := rollup.BatchContribution(receipts)

	assert.Equal(t, int64(3), c.Receipts)
	assert.True(t, c.Value.Equal(dec("600")))
	assert.True(t, c.Fees.Equal(dec("60")))
	assert.Equal(t, int64(2), c.DistinctTraders)
	assert.Equal(t, int64(1), c.DistinctCommodities)
	assert.Equal(t, day1, c.EarliestDate)
	assert.Equal(t, day2, c.LatestDate)
}

func TestBatchContribution_FeeBucketsByNatureAndLocation(t *testing.T) {
	// GIVEN: Receipts with mixed natures and locations
	// WHEN: Computing the batch contribution
	// THEN: Fee sub-sums land in the right buckets and add up to total fees

	day := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	r1 := testReceipt("r-1", "T1", "wheat", day, "100", "10", "50")
	r2 := testReceipt("r-2", "T1", "wheat", day, "200", "20", "60")
	r2.Nature = rollup.NatureLicenseFee
	r2.Location = rollup.LocationCheckpost

	c := rollup.BatchContribution([]rollup.Receipt{r1, r2})

	assert.True(t, c.FeesByNature[rollup.NatureMarketFee].Equal(dec("10")))
	assert.True(t, c.FeesByNature[rollup.NatureLicenseFee].Equal(dec("20")))
	assert.True(t, c.FeesByLocation[rollup.LocationOffice].Equal(dec("10")))
	assert.True(t, c.FeesByLocation[rollup.LocationCheckpost].Equal(dec("20")))
	assert.True(t, c.Fees.Equal(dec("30")))
}

// =============================================================================
// REVERT DELTA
// =============================================================================

func TestContribution_Neg(t *testing.T) {
	// GIVEN: A single-receipt contribution
	// WHEN: Negating it
	// THEN: Sums and buckets flip sign, distinct counts are zeroed (membership
	//       unknown), the date range is kept

	day := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	c := rollup.ContributionOf(testReceipt("r-1", "T1", "wheat", day, "1000", "50", "250"))

	n := c.Neg()

	assert.Equal(t, int64(-1), n.Receipts)
	assert.True(t, n.Value.Equal(dec("-1000")))
	assert.True(t, n.Fees.Equal(dec("-50")))
	assert.True(t, n.FeesByNature[rollup.NatureMarketFee].Equal(dec("-50")))
	assert.True(t, n.FeesByLocation[rollup.LocationOffice].Equal(dec("-50")))
	assert.Equal(t, int64(0), n.DistinctTraders)
	assert.Equal(t, int64(0), n.DistinctCommodities)
	assert.Equal(t, day, n.EarliestDate)
	assert.Equal(t, day, n.LatestDate)
	assert.True(t, n.IsRevert())
}

func TestContribution_NegThenApplyCancelsOut(t *testing.T) {
	// GIVEN: A contribution and its negation
	// WHEN: Adding them
	// THEN: Every counter is zero (revert-reapply is exact)

	day := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	c := rollup.ContributionOf(testReceipt("r-1", "T1", "wheat", day, "123.45", "6.78", "9.1"))
	n := c.Neg()

	assert.True(t, c.Value.Add(n.Value).IsZero())
	assert.True(t, c.Fees.Add(n.Fees).IsZero())
	assert.True(t, c.WeightKg.Add(n.WeightKg).IsZero())
	assert.Equal(t, int64(0), c.Receipts+n.Receipts)
}

// =============================================================================
// KEY FAN-OUT
// =============================================================================

func TestKeysFor_WithAndWithoutCheckpost(t *testing.T) {
	// GIVEN: A receipt without a checkpost
	// THEN: Six rollup rows; with a checkpost, seven (the shadow row)

	day := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	r := testReceipt("r-1", "T1", "wheat", day, "100", "10", "50")

	assert.Len(t, rollup.KeysFor(r), 6)

	r.CheckpostID = "CP1"
	keys := rollup.KeysFor(r)
	assert.Len(t, keys, 7)
	assert.Contains(t, keys, rollup.CommitteeMonthKey{
		CommitteeID: "C1", CheckpostID: "CP1", Year: 2025, Month: time.June,
	})
}
