/*
Package rollup provides the receipt analytics rollup engine.

PURPOSE:
  This package contains the domain types and algorithms that keep a set of
  denormalized aggregate tables (daily, monthly, per-trader, per-commodity)
  continuously consistent with a ledger of receipt records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Receipt: An immutable-by-default ledger row (soft-cancel + controlled edit only)
  - Contribution: The numeric delta one receipt (or a batch) adds to a rollup
  - RollupKey: The dimension tuple addressing one rollup row
  - Analytics records: The read models for each rollup table

DESIGN PRINCIPLES:
  1. Single writer: only the Coordinator mutates rollups (see coordinator.go)
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing committee/trader IDs
  4. Revert-reapply: Every mutation is expressed as ApplyDelta(key, ±contribution)

SEE ALSO:
  - contribution.go: Pure contribution calculation
  - coordinator.go: Transactional create/update/cancel
  - store.go: Persistence interfaces
*/
package rollup

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReceiptID string
type CommitteeID string
type CheckpostID string
type TraderID string
type CommodityID string

// =============================================================================
// CATEGORICAL FIELDS - Closed sets
// =============================================================================

// NatureOfReceipt classifies what a receipt was collected for.
type NatureOfReceipt string

const (
	NatureMarketFee  NatureOfReceipt = "market_fee"
	NatureLicenseFee NatureOfReceipt = "license_fee"
	NatureUserCharge NatureOfReceipt = "user_charge"
	NatureOther      NatureOfReceipt = "other"
)

func (n NatureOfReceipt) Valid() bool {
	switch n {
	case NatureMarketFee, NatureLicenseFee, NatureUserCharge, NatureOther:
		return true
	}
	return false
}

// Natures lists every NatureOfReceipt value, in stable order.
// Used for column mapping and recompute grouping.
func Natures() []NatureOfReceipt {
	return []NatureOfReceipt{NatureMarketFee, NatureLicenseFee, NatureUserCharge, NatureOther}
}

// CollectionLocation classifies where a receipt was collected.
type CollectionLocation string

const (
	LocationOffice    CollectionLocation = "office"
	LocationCheckpost CollectionLocation = "checkpost"
	LocationOther     CollectionLocation = "other"
)

func (l CollectionLocation) Valid() bool {
	switch l {
	case LocationOffice, LocationCheckpost, LocationOther:
		return true
	}
	return false
}

// Locations lists every CollectionLocation value, in stable order.
func Locations() []CollectionLocation {
	return []CollectionLocation{LocationOffice, LocationCheckpost, LocationOther}
}

// =============================================================================
// RECEIPT - One ledger row
// =============================================================================

// Receipt is the source-of-truth record of one transaction.
//
// INVARIANTS:
//   - Never physically deleted; cancellation flips Cancelled and reverts the
//     receipt's contribution from every rollup.
//   - Edits go through the Coordinator only, which reverts the old contribution
//     and applies the new one in the same database transaction.
type Receipt struct {
	ID          ReceiptID
	CommitteeID CommitteeID
	CheckpostID CheckpostID // optional; empty when collected at the committee office
	TraderID    TraderID
	CommodityID CommodityID

	BookNumber    string
	ReceiptNumber string

	Date     time.Time // day granularity, normalized to UTC midnight
	Value    decimal.Decimal
	FeesPaid decimal.Decimal
	WeightKg decimal.Decimal

	Nature   NatureOfReceipt
	Location CollectionLocation

	Cancelled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Day normalizes a timestamp to UTC midnight. All daily rollup keys and
// receipt dates use this granularity.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// ROLLUP KEYS - Dimension tuples addressing one rollup row each
// =============================================================================

// RollupKey addresses exactly one rollup row. The set of implementations is
// closed: stores dispatch on the concrete type.
type RollupKey interface {
	rollupKey()
	String() string
}

// DailyKey addresses DailyAnalytics(date, committee).
type DailyKey struct {
	CommitteeID CommitteeID
	Date        time.Time
}

// CommitteeMonthKey addresses CommitteeMonthlyAnalytics. A zero CheckpostID
// addresses the committee's own row; a non-zero one addresses the checkpost
// shadow row. The two are accumulated independently.
type CommitteeMonthKey struct {
	CommitteeID CommitteeID
	CheckpostID CheckpostID
	Year        int
	Month       time.Month
}

type TraderMonthKey struct {
	TraderID    TraderID
	CommitteeID CommitteeID
	Year        int
	Month       time.Month
}

type TraderOverallKey struct {
	TraderID    TraderID
	CommitteeID CommitteeID
}

type CommodityMonthKey struct {
	CommodityID CommodityID
	CommitteeID CommitteeID
	Year        int
	Month       time.Month
}

type CommodityOverallKey struct {
	CommodityID CommodityID
	CommitteeID CommitteeID
}

func (DailyKey) rollupKey()            {}
func (CommitteeMonthKey) rollupKey()   {}
func (TraderMonthKey) rollupKey()      {}
func (TraderOverallKey) rollupKey()    {}
func (CommodityMonthKey) rollupKey()   {}
func (CommodityOverallKey) rollupKey() {}

func (k DailyKey) String() string {
	return "daily/" + string(k.CommitteeID) + "/" + k.Date.Format("2006-01-02")
}

func (k CommitteeMonthKey) String() string {
	s := "committee-month/" + string(k.CommitteeID)
	if k.CheckpostID != "" {
		s += "/" + string(k.CheckpostID)
	}
	return s + "/" + monthTag(k.Year, k.Month)
}

func (k TraderMonthKey) String() string {
	return "trader-month/" + string(k.TraderID) + "/" + string(k.CommitteeID) + "/" + monthTag(k.Year, k.Month)
}

func (k TraderOverallKey) String() string {
	return "trader-overall/" + string(k.TraderID) + "/" + string(k.CommitteeID)
}

func (k CommodityMonthKey) String() string {
	return "commodity-month/" + string(k.CommodityID) + "/" + string(k.CommitteeID) + "/" + monthTag(k.Year, k.Month)
}

func (k CommodityOverallKey) String() string {
	return "commodity-overall/" + string(k.CommodityID) + "/" + string(k.CommitteeID)
}

func monthTag(year int, month time.Month) string {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// KeysFor returns every rollup row a receipt contributes to: the daily row,
// the committee monthly row (plus the checkpost shadow row when present), and
// the trader/commodity monthly and overall rows.
func KeysFor(r Receipt) []RollupKey {
	day := Day(r.Date)
	year, month := day.Year(), day.Month()

	keys := []RollupKey{
		DailyKey{CommitteeID: r.CommitteeID, Date: day},
		CommitteeMonthKey{CommitteeID: r.CommitteeID, Year: year, Month: month},
	}
	if r.CheckpostID != "" {
		keys = append(keys, CommitteeMonthKey{
			CommitteeID: r.CommitteeID,
			CheckpostID: r.CheckpostID,
			Year:        year,
			Month:       month,
		})
	}
	keys = append(keys,
		TraderMonthKey{TraderID: r.TraderID, CommitteeID: r.CommitteeID, Year: year, Month: month},
		TraderOverallKey{TraderID: r.TraderID, CommitteeID: r.CommitteeID},
		CommodityMonthKey{CommodityID: r.CommodityID, CommitteeID: r.CommitteeID, Year: year, Month: month},
		CommodityOverallKey{CommodityID: r.CommodityID, CommitteeID: r.CommitteeID},
	)
	return keys
}

// =============================================================================
// ANALYTICS RECORDS - Read models, one per rollup table
// =============================================================================

// Sums is the count/sum shape shared by every rollup table.
type Sums struct {
	Receipts int64
	Value    decimal.Decimal
	Fees     decimal.Decimal
	WeightKg decimal.Decimal
}

// DailyAnalytics is keyed by (date, committee). Distinct counts are
// best-effort estimates: exact only immediately after a recompute.
type DailyAnalytics struct {
	CommitteeID CommitteeID
	Date        time.Time

	Sums
	FeesByNature   map[NatureOfReceipt]decimal.Decimal
	FeesByLocation map[CollectionLocation]decimal.Decimal

	DistinctTraders     int64
	DistinctCommodities int64
}

// CommitteeMonthlyAnalytics is keyed by (committee, checkpost?, year, month).
// FeeTarget/ValueTarget are denormalized snapshots of the active Target taken
// at write time, not live references.
type CommitteeMonthlyAnalytics struct {
	CommitteeID CommitteeID
	CheckpostID CheckpostID
	Year        int
	Month       time.Month

	Sums
	FeesByNature   map[NatureOfReceipt]decimal.Decimal
	FeesByLocation map[CollectionLocation]decimal.Decimal

	DistinctTraders     int64
	DistinctCommodities int64

	FeeTarget   *decimal.Decimal
	ValueTarget *decimal.Decimal
}

type TraderMonthlyAnalytics struct {
	TraderID    TraderID
	CommitteeID CommitteeID
	Year        int
	Month       time.Month
	Sums
}

// TraderOverallAnalytics tracks the all-time rollup for one trader at one
// committee. FirstTransactionDate is set once; LastTransactionDate advances
// by max() comparison so out-of-order backfill cannot rewind it.
type TraderOverallAnalytics struct {
	TraderID    TraderID
	CommitteeID CommitteeID
	Sums
	FirstTransactionDate time.Time
	LastTransactionDate  time.Time
}

type CommodityMonthlyAnalytics struct {
	CommodityID CommodityID
	CommitteeID CommitteeID
	Year        int
	Month       time.Month
	Sums
}

type CommodityOverallAnalytics struct {
	CommodityID CommodityID
	CommitteeID CommitteeID
	Sums
	FirstTransactionDate time.Time
	LastTransactionDate  time.Time
}

// =============================================================================
// TARGET - Separately administered goal, read by the achievement resolver
// =============================================================================

// Target is set by an administrative actor, never by receipt-driven writes.
type Target struct {
	ID          string
	CommitteeID CommitteeID
	CheckpostID CheckpostID // optional
	Year        int
	Month       time.Month
	CommodityID CommodityID // optional

	MarketFeeTarget  decimal.Decimal
	TotalValueTarget *decimal.Decimal

	IsActive   bool
	SetBy      string
	ApprovedBy string
	Notes      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TargetKey identifies the scope a target applies to.
type TargetKey struct {
	CommitteeID CommitteeID
	CheckpostID CheckpostID
	Year        int
	Month       time.Month
	CommodityID CommodityID
}

// =============================================================================
// TRADER / COMMODITY - Reference entities resolved before rollup mutation
// =============================================================================

type Trader struct {
	ID          TraderID
	CommitteeID CommitteeID
	Name        string
	CreatedAt   time.Time
}

type Commodity struct {
	ID        CommodityID
	Name      string
	CreatedAt time.Time
}
