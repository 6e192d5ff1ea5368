/*
handlers.go - HTTP API handlers for the receipt analytics engine

PURPOSE:
  Exposes the rollup engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Receipts:
    POST   /api/receipts               Create receipt
    GET    /api/receipts               List receipts (filters via query)
    GET    /api/receipts/{id}          Get one ledger row
    PUT    /api/receipts/{id}          Edit receipt (revert + reapply)
    DELETE /api/receipts/{id}          Cancel receipt (soft delete)

  Analytics:
    GET    /api/analytics/daily        Daily rollups for a date range
    GET    /api/analytics/monthly      Committee monthly rollups for a year
    GET    /api/analytics/traders      Per-trader rollups for a month
    GET    /api/analytics/traders/{id}/overall     All-time trader rollup
    GET    /api/analytics/commodities  Per-commodity rollups for a month
    GET    /api/analytics/commodities/{id}/overall All-time commodity rollup

  Targets:
    POST   /api/targets                Set target (admin path)
    GET    /api/achievement            Target vs. collected fees

  Admin:
    POST   /api/admin/backfill         Bulk historical load
    POST   /api/admin/recompute        Rebuild one committee month

ERROR HANDLING:
  Errors are returned as JSON with status mapped from the domain taxonomy:
  - 400: Validation, reference resolution, malformed input
  - 404: Receipt/rollup/target not found
  - 409: Already cancelled, duplicate receipt number, consistency violation
  - 500: Everything else

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - rollup/coordinator.go: The domain logic behind the mutation endpoints
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrimark/receipt-engine/rollup"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        rollup.TxStore
	Coordinator  *rollup.Coordinator
	Backfiller   *rollup.Backfiller
	Achievements *rollup.AchievementResolver
}

// NewHandler wires the domain services around one store.
func NewHandler(store rollup.TxStore, backfiller *rollup.Backfiller) *Handler {
	return &Handler{
		Store:        store,
		Coordinator:  rollup.NewCoordinator(store),
		Backfiller:   backfiller,
		Achievements: rollup.NewAchievementResolver(store),
	}
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// CreateReceipt inserts a ledger row and updates every rollup dimension.
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := toDraft(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := h.Coordinator.CreateReceipt(r.Context(), draft)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateReceiptResponse{ID: string(id)})
}

// GetReceipt returns a single ledger row, cancelled or not.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := rollup.ReceiptID(chi.URLParam(r, "id"))

	receipt, err := h.Store.GetReceipt(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// ListReceipts returns ledger rows matching the query filters.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rollup.ReceiptFilter{
		CommitteeID:      rollup.CommitteeID(q.Get("committee_id")),
		TraderID:         rollup.TraderID(q.Get("trader_id")),
		CommodityID:      rollup.CommodityID(q.Get("commodity_id")),
		IncludeCancelled: q.Get("include_cancelled") == "true",
	}
	var err error
	if filter.From, err = optionalDay(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	if filter.To, err = optionalDay(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	receipts, err := h.Store.ListReceipts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i, rec := range receipts {
		dtos[i] = toReceiptDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateReceipt replaces a receipt's fields through the revert-reapply path.
func (h *Handler) UpdateReceipt(w http.ResponseWriter, r *http.Request) {
	id := rollup.ReceiptID(chi.URLParam(r, "id"))

	var req ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := toDraft(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.Coordinator.UpdateReceipt(r.Context(), id, draft); err != nil {
		writeDomainError(w, err)
		return
	}

	receipt, err := h.Store.GetReceipt(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// CancelReceipt soft-deletes a receipt and reverts its contribution.
func (h *Handler) CancelReceipt(w http.ResponseWriter, r *http.Request) {
	id := rollup.ReceiptID(chi.URLParam(r, "id"))

	if err := h.Coordinator.CancelReceipt(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

// GetDailyAnalytics returns daily rollups for a committee and date range.
func (h *Handler) GetDailyAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	committeeID := rollup.CommitteeID(q.Get("committee_id"))
	if committeeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return
	}
	from, err := time.ParseInLocation(dayFormat, q.Get("from"), time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := time.ParseInLocation(dayFormat, q.Get("to"), time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	daily, err := h.Store.QueryDaily(r.Context(), committeeID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]DailyAnalyticsDTO, len(daily))
	for i, d := range daily {
		dtos[i] = toDailyDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMonthlyAnalytics returns a committee's monthly rollups for one year,
// including checkpost shadow rows.
func (h *Handler) GetMonthlyAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	committeeID := rollup.CommitteeID(q.Get("committee_id"))
	if committeeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	monthly, err := h.Store.ListCommitteeMonthly(r.Context(), committeeID, year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CommitteeMonthlyDTO, len(monthly))
	for i, m := range monthly {
		dtos[i] = toCommitteeMonthlyDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTraderAnalytics returns per-trader rollups for one committee month.
func (h *Handler) GetTraderAnalytics(w http.ResponseWriter, r *http.Request) {
	committeeID, year, month, ok := monthQuery(w, r)
	if !ok {
		return
	}

	monthly, err := h.Store.ListTraderMonthly(r.Context(), committeeID, year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TraderMonthlyDTO, len(monthly))
	for i, m := range monthly {
		dtos[i] = toTraderMonthlyDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTraderOverall returns one trader's all-time rollup at a committee.
func (h *Handler) GetTraderOverall(w http.ResponseWriter, r *http.Request) {
	traderID := rollup.TraderID(chi.URLParam(r, "id"))
	committeeID := rollup.CommitteeID(r.URL.Query().Get("committee_id"))
	if committeeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return
	}

	overall, err := h.Store.GetTraderOverall(r.Context(), rollup.TraderOverallKey{
		TraderID:    traderID,
		CommitteeID: committeeID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TraderOverallDTO{
		TraderID:             string(overall.TraderID),
		CommitteeID:          string(overall.CommitteeID),
		SumsDTO:              toSumsDTO(overall.Sums),
		FirstTransactionDate: overall.FirstTransactionDate.Format(dayFormat),
		LastTransactionDate:  overall.LastTransactionDate.Format(dayFormat),
	})
}

// GetCommodityAnalytics returns per-commodity rollups for one committee month.
func (h *Handler) GetCommodityAnalytics(w http.ResponseWriter, r *http.Request) {
	committeeID, year, month, ok := monthQuery(w, r)
	if !ok {
		return
	}

	monthly, err := h.Store.ListCommodityMonthly(r.Context(), committeeID, year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CommodityMonthlyDTO, len(monthly))
	for i, m := range monthly {
		dtos[i] = toCommodityMonthlyDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCommodityOverall returns one commodity's all-time rollup at a committee.
func (h *Handler) GetCommodityOverall(w http.ResponseWriter, r *http.Request) {
	commodityID := rollup.CommodityID(chi.URLParam(r, "id"))
	committeeID := rollup.CommitteeID(r.URL.Query().Get("committee_id"))
	if committeeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return
	}

	overall, err := h.Store.GetCommodityOverall(r.Context(), rollup.CommodityOverallKey{
		CommodityID: commodityID,
		CommitteeID: committeeID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommodityOverallDTO{
		CommodityID:          string(overall.CommodityID),
		CommitteeID:          string(overall.CommitteeID),
		SumsDTO:              toSumsDTO(overall.Sums),
		FirstTransactionDate: overall.FirstTransactionDate.Format(dayFormat),
		LastTransactionDate:  overall.LastTransactionDate.Format(dayFormat),
	})
}

// =============================================================================
// TARGET / ACHIEVEMENT HANDLERS
// =============================================================================

// SetTarget upserts the target for a scope. Administrative path only;
// receipt-driven writes never touch targets.
func (h *Handler) SetTarget(w http.ResponseWriter, r *http.Request) {
	var req SetTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CommitteeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return
	}
	if req.Year == 0 || req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "year and month (1-12) are required", nil)
		return
	}

	target := rollup.Target{
		CommitteeID:      rollup.CommitteeID(req.CommitteeID),
		CheckpostID:      rollup.CheckpostID(req.CheckpostID),
		Year:             req.Year,
		Month:            time.Month(req.Month),
		CommodityID:      rollup.CommodityID(req.CommodityID),
		MarketFeeTarget:  req.MarketFeeTarget,
		TotalValueTarget: req.TotalValueTarget,
		IsActive:         req.IsActive,
		SetBy:            req.SetBy,
		ApprovedBy:       req.ApprovedBy,
		Notes:            req.Notes,
	}
	err := h.Store.WithTx(r.Context(), func(s rollup.Store) error {
		return s.SetTarget(r.Context(), target)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAchievement reports collected fees against the active target.
func (h *Handler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	committeeID, year, month, ok := monthQuery(w, r)
	if !ok {
		return
	}
	checkpostID := rollup.CheckpostID(r.URL.Query().Get("checkpost_id"))

	a, err := h.Achievements.GetAchievement(r.Context(), committeeID, checkpostID, year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AchievementDTO{
		CommitteeID: string(a.CommitteeID),
		CheckpostID: string(a.CheckpostID),
		Year:        a.Year,
		Month:       int(a.Month),
		Achieved:    a.Achieved,
		Target:      a.Target,
		Percent:     a.Percent,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunBackfill loads historical day batches across committees.
func (h *Handler) RunBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	batches := make(map[rollup.CommitteeID][]rollup.DayBatch, len(req.Batches))
	total := 0
	for committee, dayBatches := range req.Batches {
		converted := make([]rollup.DayBatch, 0, len(dayBatches))
		for _, db := range dayBatches {
			date, err := time.ParseInLocation(dayFormat, db.Date, time.UTC)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid batch date (use YYYY-MM-DD)", err)
				return
			}
			drafts := make([]rollup.ReceiptDraft, 0, len(db.Receipts))
			for _, rr := range db.Receipts {
				rr.CommitteeID = committee
				rr.Date = db.Date
				draft, err := toDraft(rr)
				if err != nil {
					writeDomainError(w, err)
					return
				}
				drafts = append(drafts, draft)
			}
			converted = append(converted, rollup.DayBatch{Date: date, Receipts: drafts})
		}
		batches[rollup.CommitteeID(committee)] = converted
		total += len(converted)
	}

	if err := h.Backfiller.RunAll(r.Context(), batches); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{Committees: len(batches), Batches: total})
}

// RunRecompute rebuilds one committee month's daily and monthly rollups
// from the ledger, restoring exact distinct counts.
func (h *Handler) RunRecompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "month must be 1-12", nil)
		return
	}

	err := h.Coordinator.RecomputeMonth(r.Context(),
		rollup.CommitteeID(req.CommitteeID), req.Year, time.Month(req.Month))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// monthQuery extracts the (committee_id, year, month) triple most analytics
// endpoints share. Writes the error response itself when invalid.
func monthQuery(w http.ResponseWriter, r *http.Request) (rollup.CommitteeID, int, time.Month, bool) {
	q := r.URL.Query()
	committeeID := rollup.CommitteeID(q.Get("committee_id"))
	if committeeID == "" {
		writeError(w, http.StatusBadRequest, "committee_id is required", nil)
		return "", 0, 0, false
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return "", 0, 0, false
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month (1-12)", err)
		return "", 0, 0, false
	}
	return committeeID, year, time.Month(month), true
}

func optionalDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dayFormat, s, time.UTC)
}

// writeDomainError maps the domain error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rollup.ErrValidation), errors.Is(err, rollup.ErrReferenceResolution):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, rollup.ErrReceiptNotFound),
		errors.Is(err, rollup.ErrRollupNotFound),
		errors.Is(err, rollup.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, rollup.ErrReceiptCancelled):
		writeError(w, http.StatusConflict, "Receipt already cancelled", err)
	case errors.Is(err, rollup.ErrDuplicateReceipt):
		writeError(w, http.StatusConflict, "Duplicate receipt number", err)
	case errors.Is(err, rollup.ErrConsistencyViolation):
		writeError(w, http.StatusConflict, "Rollup consistency violation", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
