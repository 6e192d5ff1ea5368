/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Money and weight fields use decimal.Decimal directly. It marshals as a
  quoted decimal string and unmarshals from either a JSON number or a
  string, so clients never push float rounding into the ledger.

VALIDATION:
  Validation is done in the domain layer (ReceiptDraft.Validate), not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - rollup/types.go: The domain read models these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrimark/receipt-engine/rollup"
)

// =============================================================================
// RECEIPT TYPES
// =============================================================================

// ReceiptRequest is the body of create and update calls.
type ReceiptRequest struct {
	CommitteeID   string `json:"committee_id"`
	CheckpostID   string `json:"checkpost_id,omitempty"`
	TraderName    string `json:"trader_name"`
	CommodityName string `json:"commodity_name"`

	BookNumber    string `json:"book_number,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`

	Date     string          `json:"date"` // YYYY-MM-DD
	Value    decimal.Decimal `json:"value"`
	FeesPaid decimal.Decimal `json:"fees_paid"`
	WeightKg decimal.Decimal `json:"weight_kg"`

	Nature   string `json:"nature_of_receipt"`
	Location string `json:"collection_location"`
}

// ReceiptDTO represents a ledger row in API responses.
type ReceiptDTO struct {
	ID          string `json:"id"`
	CommitteeID string `json:"committee_id"`
	CheckpostID string `json:"checkpost_id,omitempty"`
	TraderID    string `json:"trader_id"`
	CommodityID string `json:"commodity_id"`

	BookNumber    string `json:"book_number,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`

	Date     string          `json:"date"`
	Value    decimal.Decimal `json:"value"`
	FeesPaid decimal.Decimal `json:"fees_paid"`
	WeightKg decimal.Decimal `json:"weight_kg"`

	Nature   string `json:"nature_of_receipt"`
	Location string `json:"collection_location"`

	Cancelled bool   `json:"cancelled"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CreateReceiptResponse returns the ID of the new ledger row.
type CreateReceiptResponse struct {
	ID string `json:"id"`
}

// =============================================================================
// ANALYTICS TYPES
// =============================================================================

// SumsDTO is the count/sum shape shared by every rollup response.
type SumsDTO struct {
	TotalReceipts int64           `json:"total_receipts"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	TotalWeightKg decimal.Decimal `json:"total_weight_kg"`
}

// DailyAnalyticsDTO represents one (committee, date) rollup row.
type DailyAnalyticsDTO struct {
	CommitteeID string `json:"committee_id"`
	Date        string `json:"date"`
	SumsDTO
	FeesByNature        map[string]decimal.Decimal `json:"fees_by_nature"`
	FeesByLocation      map[string]decimal.Decimal `json:"fees_by_location"`
	DistinctTraders     int64                      `json:"distinct_traders"`
	DistinctCommodities int64                      `json:"distinct_commodities"`
}

// CommitteeMonthlyDTO represents one (committee, checkpost?, month) rollup row.
type CommitteeMonthlyDTO struct {
	CommitteeID string `json:"committee_id"`
	CheckpostID string `json:"checkpost_id,omitempty"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	SumsDTO
	FeesByNature        map[string]decimal.Decimal `json:"fees_by_nature"`
	FeesByLocation      map[string]decimal.Decimal `json:"fees_by_location"`
	DistinctTraders     int64                      `json:"distinct_traders"`
	DistinctCommodities int64                      `json:"distinct_commodities"`
	FeeTarget           *decimal.Decimal           `json:"fee_target,omitempty"`
	ValueTarget         *decimal.Decimal           `json:"value_target,omitempty"`
}

// TraderMonthlyDTO represents one trader's month at one committee.
type TraderMonthlyDTO struct {
	TraderID    string `json:"trader_id"`
	CommitteeID string `json:"committee_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	SumsDTO
}

// TraderOverallDTO represents one trader's all-time rollup at one committee.
type TraderOverallDTO struct {
	TraderID    string `json:"trader_id"`
	CommitteeID string `json:"committee_id"`
	SumsDTO
	FirstTransactionDate string `json:"first_transaction_date"`
	LastTransactionDate  string `json:"last_transaction_date"`
}

// CommodityMonthlyDTO represents one commodity's month at one committee.
type CommodityMonthlyDTO struct {
	CommodityID string `json:"commodity_id"`
	CommitteeID string `json:"committee_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	SumsDTO
}

// CommodityOverallDTO represents one commodity's all-time rollup.
type CommodityOverallDTO struct {
	CommodityID string `json:"commodity_id"`
	CommitteeID string `json:"committee_id"`
	SumsDTO
	FirstTransactionDate string `json:"first_transaction_date"`
	LastTransactionDate  string `json:"last_transaction_date"`
}

// =============================================================================
// TARGET / ACHIEVEMENT TYPES
// =============================================================================

// SetTargetRequest upserts the target for a scope.
type SetTargetRequest struct {
	CommitteeID string `json:"committee_id"`
	CheckpostID string `json:"checkpost_id,omitempty"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	CommodityID string `json:"commodity_id,omitempty"`

	MarketFeeTarget  decimal.Decimal  `json:"market_fee_target"`
	TotalValueTarget *decimal.Decimal `json:"total_value_target,omitempty"`

	IsActive   bool   `json:"is_active"`
	SetBy      string `json:"set_by,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// AchievementDTO reports collected fees against the active target.
// Percent is absent when no usable target exists.
type AchievementDTO struct {
	CommitteeID string `json:"committee_id"`
	CheckpostID string `json:"checkpost_id,omitempty"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`

	Achieved decimal.Decimal  `json:"achieved"`
	Target   *decimal.Decimal `json:"target,omitempty"`
	Percent  *int64           `json:"percent,omitempty"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// DayBatchRequest is one (committee, day) group of historical receipts.
// Committee and date on the individual rows are overridden by the batch.
type DayBatchRequest struct {
	Date     string           `json:"date"` // YYYY-MM-DD
	Receipts []ReceiptRequest `json:"receipts"`
}

// BackfillRequest maps committee IDs to their day batches.
type BackfillRequest struct {
	Batches map[string][]DayBatchRequest `json:"batches"`
}

// BackfillResponse reports the committees processed.
type BackfillResponse struct {
	Committees int `json:"committees"`
	Batches    int `json:"batches"`
}

// RecomputeRequest rebuilds one committee month from the ledger.
type RecomputeRequest struct {
	CommitteeID string `json:"committee_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dayFormat = "2006-01-02"

func toReceiptDTO(r rollup.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:            string(r.ID),
		CommitteeID:   string(r.CommitteeID),
		CheckpostID:   string(r.CheckpostID),
		TraderID:      string(r.TraderID),
		CommodityID:   string(r.CommodityID),
		BookNumber:    r.BookNumber,
		ReceiptNumber: r.ReceiptNumber,
		Date:          r.Date.Format(dayFormat),
		Value:         r.Value,
		FeesPaid:      r.FeesPaid,
		WeightKg:      r.WeightKg,
		Nature:        string(r.Nature),
		Location:      string(r.Location),
		Cancelled:     r.Cancelled,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
}

func toSumsDTO(s rollup.Sums) SumsDTO {
	return SumsDTO{
		TotalReceipts: s.Receipts,
		TotalValue:    s.Value,
		TotalFees:     s.Fees,
		TotalWeightKg: s.WeightKg,
	}
}

func natureMap(m map[rollup.NatureOfReceipt]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func locationMap(m map[rollup.CollectionLocation]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func toDailyDTO(d rollup.DailyAnalytics) DailyAnalyticsDTO {
	return DailyAnalyticsDTO{
		CommitteeID:         string(d.CommitteeID),
		Date:                d.Date.Format(dayFormat),
		SumsDTO:             toSumsDTO(d.Sums),
		FeesByNature:        natureMap(d.FeesByNature),
		FeesByLocation:      locationMap(d.FeesByLocation),
		DistinctTraders:     d.DistinctTraders,
		DistinctCommodities: d.DistinctCommodities,
	}
}

func toCommitteeMonthlyDTO(m rollup.CommitteeMonthlyAnalytics) CommitteeMonthlyDTO {
	return CommitteeMonthlyDTO{
		CommitteeID:         string(m.CommitteeID),
		CheckpostID:         string(m.CheckpostID),
		Year:                m.Year,
		Month:               int(m.Month),
		SumsDTO:             toSumsDTO(m.Sums),
		FeesByNature:        natureMap(m.FeesByNature),
		FeesByLocation:      locationMap(m.FeesByLocation),
		DistinctTraders:     m.DistinctTraders,
		DistinctCommodities: m.DistinctCommodities,
		FeeTarget:           m.FeeTarget,
		ValueTarget:         m.ValueTarget,
	}
}

func toTraderMonthlyDTO(m rollup.TraderMonthlyAnalytics) TraderMonthlyDTO {
	return TraderMonthlyDTO{
		TraderID:    string(m.TraderID),
		CommitteeID: string(m.CommitteeID),
		Year:        m.Year,
		Month:       int(m.Month),
		SumsDTO:     toSumsDTO(m.Sums),
	}
}

func toCommodityMonthlyDTO(m rollup.CommodityMonthlyAnalytics) CommodityMonthlyDTO {
	return CommodityMonthlyDTO{
		CommodityID: string(m.CommodityID),
		CommitteeID: string(m.CommitteeID),
		Year:        m.Year,
		Month:       int(m.Month),
		SumsDTO:     toSumsDTO(m.Sums),
	}
}

func toDraft(req ReceiptRequest) (rollup.ReceiptDraft, error) {
	date, err := time.ParseInLocation(dayFormat, req.Date, time.UTC)
	if err != nil {
		return rollup.ReceiptDraft{}, &rollup.ValidationError{Field: "date", Reason: "use YYYY-MM-DD"}
	}
	return rollup.ReceiptDraft{
		CommitteeID:   rollup.CommitteeID(req.CommitteeID),
		CheckpostID:   rollup.CheckpostID(req.CheckpostID),
		TraderName:    req.TraderName,
		CommodityName: req.CommodityName,
		BookNumber:    req.BookNumber,
		ReceiptNumber: req.ReceiptNumber,
		Date:          date,
		Value:         req.Value,
		FeesPaid:      req.FeesPaid,
		WeightKg:      req.WeightKg,
		Nature:        rollup.NatureOfReceipt(req.Nature),
		Location:      rollup.CollectionLocation(req.Location),
	}, nil
}
