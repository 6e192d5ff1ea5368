/*
queries.go - Read side of the SQLite store

PURPOSE:
  Point reads, range/list reads, recompute cleanup and target persistence.
  Everything here is side-effect free except DeleteMonthRollups and
  SetTarget, both of which run inside the caller's transaction when invoked
  through WithTx.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrimark/receipt-engine/rollup"
)

// =============================================================================
// ROLLUP POINT READS
// =============================================================================

const dailyColumns = `committee_id, date,
	total_receipts, total_value, total_fees, total_weight_kg,
	fees_market_fee, fees_license_fee, fees_user_charge, fees_other,
	fees_office, fees_checkpost, fees_loc_other,
	distinct_traders, distinct_commodities`

func (s *Store) GetDaily(ctx context.Context, key rollup.DailyKey) (rollup.DailyAnalytics, error) {
	row := s.h().QueryRowContext(ctx, `
		SELECT `+dailyColumns+` FROM daily_analytics
		WHERE committee_id = ? AND date = ?
	`, key.CommitteeID, rollup.Day(key.Date).Format(dayFormat))
	d, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.DailyAnalytics{}, rollup.ErrRollupNotFound
	}
	return d, err
}

func scanDaily(row rowScanner) (rollup.DailyAnalytics, error) {
	var d rollup.DailyAnalytics
	var date, value, fees, weight string
	buckets := make([]string, 7)

	err := row.Scan(
		&d.CommitteeID, &date,
		&d.Receipts, &value, &fees, &weight,
		&buckets[0], &buckets[1], &buckets[2], &buckets[3],
		&buckets[4], &buckets[5], &buckets[6],
		&d.DistinctTraders, &d.DistinctCommodities,
	)
	if err != nil {
		return rollup.DailyAnalytics{}, err
	}
	if d.Date, err = time.ParseInLocation(dayFormat, date, time.UTC); err != nil {
		return rollup.DailyAnalytics{}, err
	}
	if err := scanSums(&d.Sums, value, fees, weight); err != nil {
		return rollup.DailyAnalytics{}, err
	}
	d.FeesByNature, d.FeesByLocation, err = scanBuckets(buckets)
	return d, err
}

const committeeMonthlyColumns = `committee_id, checkpost_id, year, month,
	total_receipts, total_value, total_fees, total_weight_kg,
	fees_market_fee, fees_license_fee, fees_user_charge, fees_other,
	fees_office, fees_checkpost, fees_loc_other,
	distinct_traders, distinct_commodities, fee_target, value_target`

func (s *Store) GetCommitteeMonthly(ctx context.Context, key rollup.CommitteeMonthKey) (rollup.CommitteeMonthlyAnalytics, error) {
	row := s.h().QueryRowContext(ctx, `
		SELECT `+committeeMonthlyColumns+` FROM committee_monthly_analytics
		WHERE committee_id = ? AND checkpost_id = ? AND year = ? AND month = ?
	`, key.CommitteeID, key.CheckpostID, key.Year, int(key.Month))
	m, err := scanCommitteeMonthly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.CommitteeMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	return m, err
}

func scanCommitteeMonthly(row rowScanner) (rollup.CommitteeMonthlyAnalytics, error) {
	var m rollup.CommitteeMonthlyAnalytics
	var month int
	var value, fees, weight string
	var feeTarget, valueTarget sql.NullString
	buckets := make([]string, 7)

	err := row.Scan(
		&m.CommitteeID, &m.CheckpostID, &m.Year, &month,
		&m.Receipts, &value, &fees, &weight,
		&buckets[0], &buckets[1], &buckets[2], &buckets[3],
		&buckets[4], &buckets[5], &buckets[6],
		&m.DistinctTraders, &m.DistinctCommodities,
		&feeTarget, &valueTarget,
	)
	if err != nil {
		return rollup.CommitteeMonthlyAnalytics{}, err
	}
	m.Month = time.Month(month)
	if err := scanSums(&m.Sums, value, fees, weight); err != nil {
		return rollup.CommitteeMonthlyAnalytics{}, err
	}
	if m.FeesByNature, m.FeesByLocation, err = scanBuckets(buckets); err != nil {
		return rollup.CommitteeMonthlyAnalytics{}, err
	}
	if m.FeeTarget, err = scanNullDecimal(feeTarget); err != nil {
		return rollup.CommitteeMonthlyAnalytics{}, err
	}
	m.ValueTarget, err = scanNullDecimal(valueTarget)
	return m, err
}

func (s *Store) GetTraderMonthly(ctx context.Context, key rollup.TraderMonthKey) (rollup.TraderMonthlyAnalytics, error) {
	m := rollup.TraderMonthlyAnalytics{
		TraderID:    key.TraderID,
		CommitteeID: key.CommitteeID,
		Year:        key.Year,
		Month:       key.Month,
	}
	var value, fees, weight string
	err := s.h().QueryRowContext(ctx, `
		SELECT total_receipts, total_value, total_fees, total_weight_kg
		FROM trader_monthly_analytics
		WHERE trader_id = ? AND committee_id = ? AND year = ? AND month = ?
	`, key.TraderID, key.CommitteeID, key.Year, int(key.Month)).
		Scan(&m.Receipts, &value, &fees, &weight)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.TraderMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	if err != nil {
		return rollup.TraderMonthlyAnalytics{}, err
	}
	err = scanSums(&m.Sums, value, fees, weight)
	return m, err
}

func (s *Store) GetTraderOverall(ctx context.Context, key rollup.TraderOverallKey) (rollup.TraderOverallAnalytics, error) {
	o := rollup.TraderOverallAnalytics{
		TraderID:    key.TraderID,
		CommitteeID: key.CommitteeID,
	}
	var value, fees, weight, first, last string
	err := s.h().QueryRowContext(ctx, `
		SELECT total_receipts, total_value, total_fees, total_weight_kg,
			first_transaction_date, last_transaction_date
		FROM trader_overall_analytics
		WHERE trader_id = ? AND committee_id = ?
	`, key.TraderID, key.CommitteeID).
		Scan(&o.Receipts, &value, &fees, &weight, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.TraderOverallAnalytics{}, rollup.ErrRollupNotFound
	}
	if err != nil {
		return rollup.TraderOverallAnalytics{}, err
	}
	if err := scanSums(&o.Sums, value, fees, weight); err != nil {
		return rollup.TraderOverallAnalytics{}, err
	}
	if o.FirstTransactionDate, err = time.ParseInLocation(dayFormat, first, time.UTC); err != nil {
		return rollup.TraderOverallAnalytics{}, err
	}
	o.LastTransactionDate, err = time.ParseInLocation(dayFormat, last, time.UTC)
	return o, err
}

func (s *Store) GetCommodityMonthly(ctx context.Context, key rollup.CommodityMonthKey) (rollup.CommodityMonthlyAnalytics, error) {
	m := rollup.CommodityMonthlyAnalytics{
		CommodityID: key.CommodityID,
		CommitteeID: key.CommitteeID,
		Year:        key.Year,
		Month:       key.Month,
	}
	var value, fees, weight string
	err := s.h().QueryRowContext(ctx, `
		SELECT total_receipts, total_value, total_fees, total_weight_kg
		FROM commodity_monthly_analytics
		WHERE commodity_id = ? AND committee_id = ? AND year = ? AND month = ?
	`, key.CommodityID, key.CommitteeID, key.Year, int(key.Month)).
		Scan(&m.Receipts, &value, &fees, &weight)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.CommodityMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	if err != nil {
		return rollup.CommodityMonthlyAnalytics{}, err
	}
	err = scanSums(&m.Sums, value, fees, weight)
	return m, err
}

func (s *Store) GetCommodityOverall(ctx context.Context, key rollup.CommodityOverallKey) (rollup.CommodityOverallAnalytics, error) {
	o := rollup.CommodityOverallAnalytics{
		CommodityID: key.CommodityID,
		CommitteeID: key.CommitteeID,
	}
	var value, fees, weight, first, last string
	err := s.h().QueryRowContext(ctx, `
		SELECT total_receipts, total_value, total_fees, total_weight_kg,
			first_transaction_date, last_transaction_date
		FROM commodity_overall_analytics
		WHERE commodity_id = ? AND committee_id = ?
	`, key.CommodityID, key.CommitteeID).
		Scan(&o.Receipts, &value, &fees, &weight, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.CommodityOverallAnalytics{}, rollup.ErrRollupNotFound
	}
	if err != nil {
		return rollup.CommodityOverallAnalytics{}, err
	}
	if err := scanSums(&o.Sums, value, fees, weight); err != nil {
		return rollup.CommodityOverallAnalytics{}, err
	}
	if o.FirstTransactionDate, err = time.ParseInLocation(dayFormat, first, time.UTC); err != nil {
		return rollup.CommodityOverallAnalytics{}, err
	}
	o.LastTransactionDate, err = time.ParseInLocation(dayFormat, last, time.UTC)
	return o, err
}

// =============================================================================
// ROLLUP RANGE / LIST READS
// =============================================================================

func (s *Store) QueryDaily(ctx context.Context, committeeID rollup.CommitteeID, from, to time.Time) ([]rollup.DailyAnalytics, error) {
	rows, err := s.h().QueryContext(ctx, `
		SELECT `+dailyColumns+` FROM daily_analytics
		WHERE committee_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, committeeID, rollup.Day(from).Format(dayFormat), rollup.Day(to).Format(dayFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily analytics: %w", err)
	}
	defer rows.Close()

	var out []rollup.DailyAnalytics
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListCommitteeMonthly(ctx context.Context, committeeID rollup.CommitteeID, year int) ([]rollup.CommitteeMonthlyAnalytics, error) {
	rows, err := s.h().QueryContext(ctx, `
		SELECT `+committeeMonthlyColumns+` FROM committee_monthly_analytics
		WHERE committee_id = ? AND year = ?
		ORDER BY month ASC, checkpost_id ASC
	`, committeeID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query committee monthly analytics: %w", err)
	}
	defer rows.Close()

	var out []rollup.CommitteeMonthlyAnalytics
	for rows.Next() {
		m, err := scanCommitteeMonthly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListTraderMonthly(ctx context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.TraderMonthlyAnalytics, error) {
	rows, err := s.h().QueryContext(ctx, `
		SELECT trader_id, total_receipts, total_value, total_fees, total_weight_kg
		FROM trader_monthly_analytics
		WHERE committee_id = ? AND year = ? AND month = ?
		ORDER BY trader_id ASC
	`, committeeID, year, int(month))
	if err != nil {
		return nil, fmt.Errorf("failed to query trader monthly analytics: %w", err)
	}
	defer rows.Close()

	var out []rollup.TraderMonthlyAnalytics
	for rows.Next() {
		m := rollup.TraderMonthlyAnalytics{CommitteeID: committeeID, Year: year, Month: month}
		var value, fees, weight string
		if err := rows.Scan(&m.TraderID, &m.Receipts, &value, &fees, &weight); err != nil {
			return nil, err
		}
		if err := scanSums(&m.Sums, value, fees, weight); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListCommodityMonthly(ctx context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.CommodityMonthlyAnalytics, error) {
	rows, err := s.h().QueryContext(ctx, `
		SELECT commodity_id, total_receipts, total_value, total_fees, total_weight_kg
		FROM commodity_monthly_analytics
		WHERE committee_id = ? AND year = ? AND month = ?
		ORDER BY commodity_id ASC
	`, committeeID, year, int(month))
	if err != nil {
		return nil, fmt.Errorf("failed to query commodity monthly analytics: %w", err)
	}
	defer rows.Close()

	var out []rollup.CommodityMonthlyAnalytics
	for rows.Next() {
		m := rollup.CommodityMonthlyAnalytics{CommitteeID: committeeID, Year: year, Month: month}
		var value, fees, weight string
		if err := rows.Scan(&m.CommodityID, &m.Receipts, &value, &fees, &weight); err != nil {
			return nil, err
		}
		if err := scanSums(&m.Sums, value, fees, weight); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMonthRollups clears the daily and monthly rows for one committee
// month ahead of a recompute. Overall (all-time) tables are left alone.
func (s *Store) DeleteMonthRollups(ctx context.Context, committeeID rollup.CommitteeID, year int, month time.Month) error {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM daily_analytics WHERE committee_id = ? AND date >= ? AND date <= ?`,
			[]any{committeeID, start.Format(dayFormat), end.Format(dayFormat)}},
		{`DELETE FROM committee_monthly_analytics WHERE committee_id = ? AND year = ? AND month = ?`,
			[]any{committeeID, year, int(month)}},
		{`DELETE FROM trader_monthly_analytics WHERE committee_id = ? AND year = ? AND month = ?`,
			[]any{committeeID, year, int(month)}},
		{`DELETE FROM commodity_monthly_analytics WHERE committee_id = ? AND year = ? AND month = ?`,
			[]any{committeeID, year, int(month)}},
	}
	for _, stmt := range stmts {
		if _, err := s.h().ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("failed to clear month rollups: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TARGET STORE (rollup.TargetStore interface)
// =============================================================================

// SetTarget upserts the target for its scope, then refreshes the
// denormalized snapshot on any existing committee monthly row. Targets
// scoped to a commodity have no monthly-row snapshot.
func (s *Store) SetTarget(ctx context.Context, t rollup.Target) error {
	if t.MarketFeeTarget.IsNegative() {
		return &rollup.ValidationError{Field: "marketFeeTarget", Reason: "must not be negative"}
	}

	now := time.Now().UTC().Format(tsFormat)
	res, err := s.h().ExecContext(ctx, `
		UPDATE targets SET
			fee_target = ?, value_target = ?, is_active = ?,
			set_by = ?, approved_by = ?, notes = ?, updated_at = ?
		WHERE committee_id = ? AND checkpost_id = ? AND year = ? AND month = ? AND commodity_id = ?
	`, t.MarketFeeTarget.String(), nullDecimal(t.TotalValueTarget), boolToInt(t.IsActive),
		t.SetBy, t.ApprovedBy, t.Notes, now,
		t.CommitteeID, t.CheckpostID, t.Year, int(t.Month), t.CommodityID)
	if err != nil {
		return fmt.Errorf("failed to update target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = s.h().ExecContext(ctx, `
			INSERT INTO targets (
				id, committee_id, checkpost_id, year, month, commodity_id,
				fee_target, value_target, is_active,
				set_by, approved_by, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, t.CommitteeID, t.CheckpostID, t.Year, int(t.Month), t.CommodityID,
			t.MarketFeeTarget.String(), nullDecimal(t.TotalValueTarget), boolToInt(t.IsActive),
			t.SetBy, t.ApprovedBy, t.Notes, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert target: %w", err)
		}
	}

	if t.CommodityID == "" && t.IsActive {
		_, err = s.h().ExecContext(ctx, `
			UPDATE committee_monthly_analytics SET fee_target = ?, value_target = ?
			WHERE committee_id = ? AND checkpost_id = ? AND year = ? AND month = ?
		`, t.MarketFeeTarget.String(), nullDecimal(t.TotalValueTarget),
			t.CommitteeID, t.CheckpostID, t.Year, int(t.Month))
		if err != nil {
			return fmt.Errorf("failed to refresh target snapshot: %w", err)
		}
	}
	return nil
}

func (s *Store) GetActiveTarget(ctx context.Context, key rollup.TargetKey) (rollup.Target, error) {
	t := rollup.Target{
		CommitteeID: key.CommitteeID,
		CheckpostID: key.CheckpostID,
		Year:        key.Year,
		Month:       key.Month,
		CommodityID: key.CommodityID,
		IsActive:    true,
	}
	var feeTarget, createdAt, updatedAt string
	var valueTarget sql.NullString
	err := s.h().QueryRowContext(ctx, `
		SELECT id, fee_target, value_target, set_by, approved_by, notes, created_at, updated_at
		FROM targets
		WHERE committee_id = ? AND checkpost_id = ? AND year = ? AND month = ?
			AND commodity_id = ? AND is_active = 1
	`, key.CommitteeID, key.CheckpostID, key.Year, int(key.Month), key.CommodityID).
		Scan(&t.ID, &feeTarget, &valueTarget, &t.SetBy, &t.ApprovedBy, &t.Notes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.Target{}, rollup.ErrTargetNotFound
	}
	if err != nil {
		return rollup.Target{}, fmt.Errorf("failed to query target: %w", err)
	}
	if t.MarketFeeTarget, err = decimal.NewFromString(feeTarget); err != nil {
		return rollup.Target{}, err
	}
	if t.TotalValueTarget, err = scanNullDecimal(valueTarget); err != nil {
		return rollup.Target{}, err
	}
	t.CreatedAt, _ = time.Parse(tsFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(tsFormat, updatedAt)
	return t, nil
}

// =============================================================================
// SCAN / CONVERSION HELPERS
// =============================================================================

func scanSums(sums *rollup.Sums, value, fees, weight string) error {
	var err error
	if sums.Value, err = decimal.NewFromString(value); err != nil {
		return err
	}
	if sums.Fees, err = decimal.NewFromString(fees); err != nil {
		return err
	}
	sums.WeightKg, err = decimal.NewFromString(weight)
	return err
}

func scanNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
