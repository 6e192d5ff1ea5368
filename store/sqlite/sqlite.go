/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rollup.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  rollup.LedgerStore:    Receipt persistence (insert, controlled update, soft cancel)
  rollup.ReferenceStore: Trader/commodity lookup-or-create
  rollup.RollupStore:    Aggregate tables with upsert-increment semantics
  rollup.TargetStore:    Administrative targets
  rollup.TxStore:        WithTx transaction wrapper

DECIMAL COLUMNS:
  All financial columns are stored as TEXT holding decimal.Decimal strings.
  Increments are read-modify-write inside the enclosing transaction using
  decimal arithmetic in Go, never floating-point SQL arithmetic. The shared
  increment semantics (negativity checks, max() date advance) live in
  rollup/delta.go so this store and the in-memory one cannot drift.

KEY TABLES:
  receipts:                      Ledger rows (soft-cancel only, no DELETE)
  traders, commodities:          Reference entities
  daily_analytics:               (committee, date) rollup
  committee_monthly_analytics:   (committee, checkpost?, year, month) rollup
  trader_monthly_analytics:      (trader, committee, year, month) rollup
  trader_overall_analytics:      (trader, committee) all-time rollup
  commodity_monthly_analytics:   (commodity, committee, year, month) rollup
  commodity_overall_analytics:   (commodity, committee) all-time rollup
  targets:                       Administratively-set goals

CONCURRENCY:
  Writes serialize on an internal mutex held for the duration of WithTx.
  In production with PostgreSQL, row-level locking under the transaction
  handles this instead. SQLite is opened with WAL so readers don't block.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - rollup/store.go: Interface definitions
  - rollup/delta.go: Shared increment semantics
  - rollup/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/agrimark/receipt-engine/rollup"
)

const (
	dayFormat = "2006-01-02"
	tsFormat  = time.RFC3339
)

// Store implements rollup.TxStore using SQLite.
type Store struct {
	db      *sql.DB
	writeMu *sync.Mutex

	// tx is non-nil on the view passed to WithTx callbacks; all statements
	// then run inside that transaction.
	tx *sql.Tx
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, writeMu: &sync.Mutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) h() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// WithTx executes fn within a database transaction. Coordinator operations
// and backfill batches run through here; any error rolls everything back so
// no partial revert/reapply pair is observable.
func (s *Store) WithTx(ctx context.Context, fn func(rollup.Store) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &Store{db: s.db, writeMu: s.writeMu, tx: sqlTx}
	if err := fn(view); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger (soft-cancel only, no physical delete)
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		committee_id TEXT NOT NULL,
		checkpost_id TEXT NOT NULL DEFAULT '',
		trader_id TEXT NOT NULL,
		commodity_id TEXT NOT NULL,
		book_number TEXT NOT NULL DEFAULT '',
		receipt_number TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		value TEXT NOT NULL,
		fees_paid TEXT NOT NULL,
		weight_kg TEXT NOT NULL,
		nature TEXT NOT NULL,
		location TEXT NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Duplicate-safe backfill relies on the book/receipt number pair
	CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_number
		ON receipts(committee_id, book_number, receipt_number)
		WHERE book_number != '' AND receipt_number != '';

	CREATE INDEX IF NOT EXISTS idx_receipts_committee_date
		ON receipts(committee_id, date);
	CREATE INDEX IF NOT EXISTS idx_receipts_trader
		ON receipts(trader_id);
	CREATE INDEX IF NOT EXISTS idx_receipts_commodity
		ON receipts(commodity_id);

	-- Reference entities
	CREATE TABLE IF NOT EXISTS traders (
		id TEXT PRIMARY KEY,
		committee_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(committee_id, name)
	);

	CREATE TABLE IF NOT EXISTS commodities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Rollups
	CREATE TABLE IF NOT EXISTS daily_analytics (
		committee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		fees_market_fee TEXT NOT NULL,
		fees_license_fee TEXT NOT NULL,
		fees_user_charge TEXT NOT NULL,
		fees_other TEXT NOT NULL,
		fees_office TEXT NOT NULL,
		fees_checkpost TEXT NOT NULL,
		fees_loc_other TEXT NOT NULL,
		distinct_traders INTEGER NOT NULL,
		distinct_commodities INTEGER NOT NULL,
		PRIMARY KEY (committee_id, date)
	);

	CREATE TABLE IF NOT EXISTS committee_monthly_analytics (
		committee_id TEXT NOT NULL,
		checkpost_id TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		fees_market_fee TEXT NOT NULL,
		fees_license_fee TEXT NOT NULL,
		fees_user_charge TEXT NOT NULL,
		fees_other TEXT NOT NULL,
		fees_office TEXT NOT NULL,
		fees_checkpost TEXT NOT NULL,
		fees_loc_other TEXT NOT NULL,
		distinct_traders INTEGER NOT NULL,
		distinct_commodities INTEGER NOT NULL,
		fee_target TEXT,
		value_target TEXT,
		PRIMARY KEY (committee_id, checkpost_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS trader_monthly_analytics (
		trader_id TEXT NOT NULL,
		committee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		PRIMARY KEY (trader_id, committee_id, year, month)
	);

	CREATE INDEX IF NOT EXISTS idx_trader_monthly_committee
		ON trader_monthly_analytics(committee_id, year, month);

	CREATE TABLE IF NOT EXISTS trader_overall_analytics (
		trader_id TEXT NOT NULL,
		committee_id TEXT NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		first_transaction_date TEXT NOT NULL,
		last_transaction_date TEXT NOT NULL,
		PRIMARY KEY (trader_id, committee_id)
	);

	CREATE TABLE IF NOT EXISTS commodity_monthly_analytics (
		commodity_id TEXT NOT NULL,
		committee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		PRIMARY KEY (commodity_id, committee_id, year, month)
	);

	CREATE INDEX IF NOT EXISTS idx_commodity_monthly_committee
		ON commodity_monthly_analytics(committee_id, year, month);

	CREATE TABLE IF NOT EXISTS commodity_overall_analytics (
		commodity_id TEXT NOT NULL,
		committee_id TEXT NOT NULL,
		total_receipts INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		total_weight_kg TEXT NOT NULL,
		first_transaction_date TEXT NOT NULL,
		last_transaction_date TEXT NOT NULL,
		PRIMARY KEY (commodity_id, committee_id)
	);

	-- Targets (set administratively, read by the achievement resolver)
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		committee_id TEXT NOT NULL,
		checkpost_id TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		commodity_id TEXT NOT NULL DEFAULT '',
		fee_target TEXT NOT NULL,
		value_target TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		set_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(committee_id, checkpost_id, year, month, commodity_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (rollup.LedgerStore interface)
// =============================================================================

const receiptColumns = `id, committee_id, checkpost_id, trader_id, commodity_id,
	book_number, receipt_number, date, value, fees_paid, weight_kg,
	nature, location, cancelled, created_at, updated_at`

func (s *Store) InsertReceipt(ctx context.Context, r rollup.Receipt) error {
	_, err := s.h().ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, receiptArgs(r)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return rollup.ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *Store) InsertReceiptBatch(ctx context.Context, receipts []rollup.Receipt) (int, error) {
	inserted := 0
	for _, r := range receipts {
		res, err := s.h().ExecContext(ctx, `
			INSERT OR IGNORE INTO receipts (`+receiptColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, receiptArgs(r)...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert receipt batch row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func receiptArgs(r rollup.Receipt) []any {
	return []any{
		r.ID,
		r.CommitteeID,
		r.CheckpostID,
		r.TraderID,
		r.CommodityID,
		r.BookNumber,
		r.ReceiptNumber,
		r.Date.Format(dayFormat),
		r.Value.String(),
		r.FeesPaid.String(),
		r.WeightKg.String(),
		r.Nature,
		r.Location,
		boolToInt(r.Cancelled),
		r.CreatedAt.UTC().Format(tsFormat),
		r.UpdatedAt.UTC().Format(tsFormat),
	}
}

func (s *Store) GetReceipt(ctx context.Context, id rollup.ReceiptID) (rollup.Receipt, error) {
	row := s.h().QueryRowContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts WHERE id = ?
	`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rollup.Receipt{}, rollup.ErrReceiptNotFound
	}
	return r, err
}

func (s *Store) UpdateReceipt(ctx context.Context, r rollup.Receipt) error {
	res, err := s.h().ExecContext(ctx, `
		UPDATE receipts SET
			committee_id = ?, checkpost_id = ?, trader_id = ?, commodity_id = ?,
			book_number = ?, receipt_number = ?, date = ?,
			value = ?, fees_paid = ?, weight_kg = ?,
			nature = ?, location = ?, updated_at = ?
		WHERE id = ?
	`,
		r.CommitteeID, r.CheckpostID, r.TraderID, r.CommodityID,
		r.BookNumber, r.ReceiptNumber, r.Date.Format(dayFormat),
		r.Value.String(), r.FeesPaid.String(), r.WeightKg.String(),
		r.Nature, r.Location, time.Now().UTC().Format(tsFormat),
		r.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return rollup.ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rollup.ErrReceiptNotFound
	}
	return nil
}

func (s *Store) MarkCancelled(ctx context.Context, id rollup.ReceiptID) error {
	res, err := s.h().ExecContext(ctx, `
		UPDATE receipts SET cancelled = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(tsFormat), id)
	if err != nil {
		return fmt.Errorf("failed to cancel receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rollup.ErrReceiptNotFound
	}
	return nil
}

func (s *Store) ListReceipts(ctx context.Context, f rollup.ReceiptFilter) ([]rollup.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE 1=1`
	var args []any

	if !f.IncludeCancelled {
		query += ` AND cancelled = 0`
	}
	if f.CommitteeID != "" {
		query += ` AND committee_id = ?`
		args = append(args, f.CommitteeID)
	}
	if f.TraderID != "" {
		query += ` AND trader_id = ?`
		args = append(args, f.TraderID)
	}
	if f.CommodityID != "" {
		query += ` AND commodity_id = ?`
		args = append(args, f.CommodityID)
	}
	if !f.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, rollup.Day(f.From).Format(dayFormat))
	}
	if !f.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, rollup.Day(f.To).Format(dayFormat))
	}
	query += ` ORDER BY date ASC, id ASC`

	return s.queryReceipts(ctx, query, args...)
}

func (s *Store) ReceiptsForMonth(ctx context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.Receipt, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return s.queryReceipts(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE committee_id = ? AND cancelled = 0 AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, committeeID, start.Format(dayFormat), end.Format(dayFormat))
}

func (s *Store) queryReceipts(ctx context.Context, query string, args ...any) ([]rollup.Receipt, error) {
	rows, err := s.h().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []rollup.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (rollup.Receipt, error) {
	var r rollup.Receipt
	var date, value, fees, weight, createdAt, updatedAt string
	var cancelled int

	err := row.Scan(
		&r.ID, &r.CommitteeID, &r.CheckpostID, &r.TraderID, &r.CommodityID,
		&r.BookNumber, &r.ReceiptNumber, &date, &value, &fees, &weight,
		&r.Nature, &r.Location, &cancelled, &createdAt, &updatedAt,
	)
	if err != nil {
		return rollup.Receipt{}, err
	}

	if r.Date, err = time.ParseInLocation(dayFormat, date, time.UTC); err != nil {
		return rollup.Receipt{}, fmt.Errorf("bad receipt date %q: %w", date, err)
	}
	if r.Value, err = decimal.NewFromString(value); err != nil {
		return rollup.Receipt{}, err
	}
	if r.FeesPaid, err = decimal.NewFromString(fees); err != nil {
		return rollup.Receipt{}, err
	}
	if r.WeightKg, err = decimal.NewFromString(weight); err != nil {
		return rollup.Receipt{}, err
	}
	r.Cancelled = cancelled != 0
	r.CreatedAt, _ = time.Parse(tsFormat, createdAt)
	r.UpdatedAt, _ = time.Parse(tsFormat, updatedAt)
	return r, nil
}

// =============================================================================
// REFERENCE STORE (rollup.ReferenceStore interface)
// =============================================================================

func (s *Store) EnsureTrader(ctx context.Context, committeeID rollup.CommitteeID, name string) (rollup.TraderID, error) {
	name = strings.TrimSpace(name)

	var id rollup.TraderID
	err := s.h().QueryRowContext(ctx,
		`SELECT id FROM traders WHERE committee_id = ? AND name = ?`,
		committeeID, name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up trader: %w", err)
	}

	id = rollup.TraderID(uuid.NewString())
	_, err = s.h().ExecContext(ctx,
		`INSERT INTO traders (id, committee_id, name, created_at) VALUES (?, ?, ?, ?)`,
		id, committeeID, name, time.Now().UTC().Format(tsFormat),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create trader: %w", err)
	}
	return id, nil
}

func (s *Store) EnsureCommodity(ctx context.Context, name string) (rollup.CommodityID, error) {
	name = strings.TrimSpace(name)

	var id rollup.CommodityID
	err := s.h().QueryRowContext(ctx,
		`SELECT id FROM commodities WHERE name = ?`, name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up commodity: %w", err)
	}

	id = rollup.CommodityID(uuid.NewString())
	_, err = s.h().ExecContext(ctx,
		`INSERT INTO commodities (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().UTC().Format(tsFormat),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create commodity: %w", err)
	}
	return id, nil
}

// =============================================================================
// ROLLUP STORE - ApplyDelta (rollup.RollupStore interface)
// =============================================================================

// ApplyDelta reads the addressed row, applies the delta with the shared
// increment semantics, and writes it back. All of it runs inside the
// caller's transaction, so concurrent mutators serialize on commit.
func (s *Store) ApplyDelta(ctx context.Context, key rollup.RollupKey, delta rollup.Contribution) error {
	switch k := key.(type) {
	case rollup.DailyKey:
		return s.applyDaily(ctx, k, delta)
	case rollup.CommitteeMonthKey:
		return s.applyCommitteeMonthly(ctx, k, delta)
	case rollup.TraderMonthKey:
		return s.applyTraderMonthly(ctx, k, delta)
	case rollup.TraderOverallKey:
		return s.applyTraderOverall(ctx, k, delta)
	case rollup.CommodityMonthKey:
		return s.applyCommodityMonthly(ctx, k, delta)
	case rollup.CommodityOverallKey:
		return s.applyCommodityOverall(ctx, k, delta)
	default:
		return fmt.Errorf("unsupported rollup key %T", key)
	}
}

func (s *Store) applyDaily(ctx context.Context, k rollup.DailyKey, delta rollup.Contribution) error {
	row, err := s.GetDaily(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		row = rollup.DailyAnalytics{
			CommitteeID:         k.CommitteeID,
			Date:                rollup.Day(k.Date),
			Sums:                rollup.SumsOf(delta),
			FeesByNature:        bucketNature(delta.FeesByNature),
			FeesByLocation:      bucketLocation(delta.FeesByLocation),
			DistinctTraders:     delta.DistinctTraders,
			DistinctCommodities: delta.DistinctCommodities,
		}
		_, err := s.h().ExecContext(ctx, `
			INSERT INTO daily_analytics (
				committee_id, date, total_receipts, total_value, total_fees, total_weight_kg,
				fees_market_fee, fees_license_fee, fees_user_charge, fees_other,
				fees_office, fees_checkpost, fees_loc_other,
				distinct_traders, distinct_commodities)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, dailyArgs(row)...)
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	if err := rollup.ApplyFeeBuckets(k, row.FeesByNature, row.FeesByLocation, delta); err != nil {
		return err
	}
	args := append(dailyArgs(row)[2:], k.CommitteeID, rollup.Day(k.Date).Format(dayFormat))
	_, err = s.h().ExecContext(ctx, `
		UPDATE daily_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?,
			fees_market_fee = ?, fees_license_fee = ?, fees_user_charge = ?, fees_other = ?,
			fees_office = ?, fees_checkpost = ?, fees_loc_other = ?,
			distinct_traders = ?, distinct_commodities = ?
		WHERE committee_id = ? AND date = ?
	`, args...)
	return err
}

func dailyArgs(row rollup.DailyAnalytics) []any {
	args := []any{
		row.CommitteeID,
		rollup.Day(row.Date).Format(dayFormat),
		row.Receipts,
		row.Value.String(),
		row.Fees.String(),
		row.WeightKg.String(),
	}
	args = append(args, bucketArgs(row.FeesByNature, row.FeesByLocation)...)
	return append(args, row.DistinctTraders, row.DistinctCommodities)
}

func (s *Store) applyCommitteeMonthly(ctx context.Context, k rollup.CommitteeMonthKey, delta rollup.Contribution) error {
	row, err := s.GetCommitteeMonthly(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		row = rollup.CommitteeMonthlyAnalytics{
			CommitteeID:         k.CommitteeID,
			CheckpostID:         k.CheckpostID,
			Year:                k.Year,
			Month:               k.Month,
			Sums:                rollup.SumsOf(delta),
			FeesByNature:        bucketNature(delta.FeesByNature),
			FeesByLocation:      bucketLocation(delta.FeesByLocation),
			DistinctTraders:     delta.DistinctTraders,
			DistinctCommodities: delta.DistinctCommodities,
		}

		// Denormalized target snapshot, taken at row creation.
		target, terr := s.GetActiveTarget(ctx, rollup.TargetKey{
			CommitteeID: k.CommitteeID,
			CheckpostID: k.CheckpostID,
			Year:        k.Year,
			Month:       k.Month,
		})
		switch {
		case terr == nil:
			ft := target.MarketFeeTarget
			row.FeeTarget = &ft
			row.ValueTarget = target.TotalValueTarget
		case !errors.Is(terr, rollup.ErrTargetNotFound):
			return terr
		}

		args := []any{
			row.CommitteeID, row.CheckpostID, row.Year, int(row.Month),
			row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
		}
		args = append(args, bucketArgs(row.FeesByNature, row.FeesByLocation)...)
		args = append(args, row.DistinctTraders, row.DistinctCommodities,
			nullDecimal(row.FeeTarget), nullDecimal(row.ValueTarget))

		_, err := s.h().ExecContext(ctx, `
			INSERT INTO committee_monthly_analytics (
				committee_id, checkpost_id, year, month,
				total_receipts, total_value, total_fees, total_weight_kg,
				fees_market_fee, fees_license_fee, fees_user_charge, fees_other,
				fees_office, fees_checkpost, fees_loc_other,
				distinct_traders, distinct_commodities, fee_target, value_target)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	if err := rollup.ApplyFeeBuckets(k, row.FeesByNature, row.FeesByLocation, delta); err != nil {
		return err
	}
	args := []any{
		row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
	}
	args = append(args, bucketArgs(row.FeesByNature, row.FeesByLocation)...)
	args = append(args, row.DistinctTraders, row.DistinctCommodities,
		k.CommitteeID, k.CheckpostID, k.Year, int(k.Month))

	_, err = s.h().ExecContext(ctx, `
		UPDATE committee_monthly_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?,
			fees_market_fee = ?, fees_license_fee = ?, fees_user_charge = ?, fees_other = ?,
			fees_office = ?, fees_checkpost = ?, fees_loc_other = ?,
			distinct_traders = ?, distinct_commodities = ?
		WHERE committee_id = ? AND checkpost_id = ? AND year = ? AND month = ?
	`, args...)
	return err
}

func (s *Store) applyTraderMonthly(ctx context.Context, k rollup.TraderMonthKey, delta rollup.Contribution) error {
	row, err := s.GetTraderMonthly(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		sums := rollup.SumsOf(delta)
		_, err := s.h().ExecContext(ctx, `
			INSERT INTO trader_monthly_analytics (
				trader_id, committee_id, year, month,
				total_receipts, total_value, total_fees, total_weight_kg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, k.TraderID, k.CommitteeID, k.Year, int(k.Month),
			sums.Receipts, sums.Value.String(), sums.Fees.String(), sums.WeightKg.String())
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	_, err = s.h().ExecContext(ctx, `
		UPDATE trader_monthly_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?
		WHERE trader_id = ? AND committee_id = ? AND year = ? AND month = ?
	`, row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
		k.TraderID, k.CommitteeID, k.Year, int(k.Month))
	return err
}

func (s *Store) applyTraderOverall(ctx context.Context, k rollup.TraderOverallKey, delta rollup.Contribution) error {
	row, err := s.GetTraderOverall(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		sums := rollup.SumsOf(delta)
		_, err := s.h().ExecContext(ctx, `
			INSERT INTO trader_overall_analytics (
				trader_id, committee_id,
				total_receipts, total_value, total_fees, total_weight_kg,
				first_transaction_date, last_transaction_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, k.TraderID, k.CommitteeID,
			sums.Receipts, sums.Value.String(), sums.Fees.String(), sums.WeightKg.String(),
			delta.EarliestDate.Format(dayFormat), delta.LatestDate.Format(dayFormat))
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	rollup.AdvanceLastDate(&row.LastTransactionDate, delta)
	_, err = s.h().ExecContext(ctx, `
		UPDATE trader_overall_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?,
			last_transaction_date = ?
		WHERE trader_id = ? AND committee_id = ?
	`, row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
		row.LastTransactionDate.Format(dayFormat),
		k.TraderID, k.CommitteeID)
	return err
}

func (s *Store) applyCommodityMonthly(ctx context.Context, k rollup.CommodityMonthKey, delta rollup.Contribution) error {
	row, err := s.GetCommodityMonthly(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		sums := rollup.SumsOf(delta)
		_, err := s.h().ExecContext(ctx, `
			INSERT INTO commodity_monthly_analytics (
				commodity_id, committee_id, year, month,
				total_receipts, total_value, total_fees, total_weight_kg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, k.CommodityID, k.CommitteeID, k.Year, int(k.Month),
			sums.Receipts, sums.Value.String(), sums.Fees.String(), sums.WeightKg.String())
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	_, err = s.h().ExecContext(ctx, `
		UPDATE commodity_monthly_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?
		WHERE commodity_id = ? AND committee_id = ? AND year = ? AND month = ?
	`, row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
		k.CommodityID, k.CommitteeID, k.Year, int(k.Month))
	return err
}

func (s *Store) applyCommodityOverall(ctx context.Context, k rollup.CommodityOverallKey, delta rollup.Contribution) error {
	row, err := s.GetCommodityOverall(ctx, k)
	if errors.Is(err, rollup.ErrRollupNotFound) {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		sums := rollup.SumsOf(delta)
		_, err := s.h().ExecContext(ctx, `
			INSERT INTO commodity_overall_analytics (
				commodity_id, committee_id,
				total_receipts, total_value, total_fees, total_weight_kg,
				first_transaction_date, last_transaction_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, k.CommodityID, k.CommitteeID,
			sums.Receipts, sums.Value.String(), sums.Fees.String(), sums.WeightKg.String(),
			delta.EarliestDate.Format(dayFormat), delta.LatestDate.Format(dayFormat))
		return err
	}
	if err != nil {
		return err
	}

	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	rollup.AdvanceLastDate(&row.LastTransactionDate, delta)
	_, err = s.h().ExecContext(ctx, `
		UPDATE commodity_overall_analytics SET
			total_receipts = ?, total_value = ?, total_fees = ?, total_weight_kg = ?,
			last_transaction_date = ?
		WHERE commodity_id = ? AND committee_id = ?
	`, row.Receipts, row.Value.String(), row.Fees.String(), row.WeightKg.String(),
		row.LastTransactionDate.Format(dayFormat),
		k.CommodityID, k.CommitteeID)
	return err
}

// =============================================================================
// BUCKET COLUMN HELPERS
// =============================================================================

// bucketNature fills a fee-by-nature map with every bucket present, so
// column writes never miss a key.
func bucketNature(src map[rollup.NatureOfReceipt]decimal.Decimal) map[rollup.NatureOfReceipt]decimal.Decimal {
	out := make(map[rollup.NatureOfReceipt]decimal.Decimal, 4)
	for _, n := range rollup.Natures() {
		out[n] = src[n]
	}
	return out
}

func bucketLocation(src map[rollup.CollectionLocation]decimal.Decimal) map[rollup.CollectionLocation]decimal.Decimal {
	out := make(map[rollup.CollectionLocation]decimal.Decimal, 3)
	for _, l := range rollup.Locations() {
		out[l] = src[l]
	}
	return out
}

// bucketArgs returns the seven fee sub-sum columns in schema order.
func bucketArgs(byNature map[rollup.NatureOfReceipt]decimal.Decimal, byLocation map[rollup.CollectionLocation]decimal.Decimal) []any {
	args := make([]any, 0, 7)
	for _, n := range rollup.Natures() {
		args = append(args, byNature[n].String())
	}
	for _, l := range rollup.Locations() {
		args = append(args, byLocation[l].String())
	}
	return args
}

func scanBuckets(cols []string) (map[rollup.NatureOfReceipt]decimal.Decimal, map[rollup.CollectionLocation]decimal.Decimal, error) {
	byNature := make(map[rollup.NatureOfReceipt]decimal.Decimal, 4)
	byLocation := make(map[rollup.CollectionLocation]decimal.Decimal, 3)
	for i, n := range rollup.Natures() {
		d, err := decimal.NewFromString(cols[i])
		if err != nil {
			return nil, nil, err
		}
		byNature[n] = d
	}
	for i, l := range rollup.Locations() {
		d, err := decimal.NewFromString(cols[4+i])
		if err != nil {
			return nil, nil, err
		}
		byLocation[l] = d
	}
	return byNature, byLocation, nil
}
