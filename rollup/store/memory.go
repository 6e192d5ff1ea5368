// Package store provides an in-memory rollup.TxStore implementation
// (for testing/dev). Transactions are emulated with a state snapshot that
// is restored when the transaction function fails.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrimark/receipt-engine/rollup"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu    *sync.Mutex
	state *state

	// inTx marks the view handed to WithTx callbacks; the outer call
	// already holds the mutex.
	inTx bool
}

type receiptNumberKey struct {
	committee rollup.CommitteeID
	book      string
	number    string
}

type traderKey struct {
	committee rollup.CommitteeID
	name      string
}

type dailyKey struct {
	committee rollup.CommitteeID
	date      string // 2006-01-02
}

type state struct {
	receipts       map[rollup.ReceiptID]rollup.Receipt
	receiptNumbers map[receiptNumberKey]rollup.ReceiptID

	traders     map[traderKey]rollup.Trader
	commodities map[string]rollup.Commodity

	daily            map[dailyKey]*rollup.DailyAnalytics
	committeeMonthly map[rollup.CommitteeMonthKey]*rollup.CommitteeMonthlyAnalytics
	traderMonthly    map[rollup.TraderMonthKey]*rollup.TraderMonthlyAnalytics
	traderOverall    map[rollup.TraderOverallKey]*rollup.TraderOverallAnalytics
	commodityMonthly map[rollup.CommodityMonthKey]*rollup.CommodityMonthlyAnalytics
	commodityOverall map[rollup.CommodityOverallKey]*rollup.CommodityOverallAnalytics

	targets map[rollup.TargetKey]rollup.Target
}

func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		state: &state{
			receipts:         make(map[rollup.ReceiptID]rollup.Receipt),
			receiptNumbers:   make(map[receiptNumberKey]rollup.ReceiptID),
			traders:          make(map[traderKey]rollup.Trader),
			commodities:      make(map[string]rollup.Commodity),
			daily:            make(map[dailyKey]*rollup.DailyAnalytics),
			committeeMonthly: make(map[rollup.CommitteeMonthKey]*rollup.CommitteeMonthlyAnalytics),
			traderMonthly:    make(map[rollup.TraderMonthKey]*rollup.TraderMonthlyAnalytics),
			traderOverall:    make(map[rollup.TraderOverallKey]*rollup.TraderOverallAnalytics),
			commodityMonthly: make(map[rollup.CommodityMonthKey]*rollup.CommodityMonthlyAnalytics),
			commodityOverall: make(map[rollup.CommodityOverallKey]*rollup.CommodityOverallAnalytics),
			targets:          make(map[rollup.TargetKey]rollup.Target),
		},
	}
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithTx runs fn against the shared state under the store mutex. On error
// the pre-transaction snapshot is restored, so no partial mutation is
// observable - same contract as a database rollback.
func (m *Memory) WithTx(_ context.Context, fn func(rollup.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	view := &Memory{mu: m.mu, state: m.state, inTx: true}
	if err := fn(view); err != nil {
		*m.state = *snapshot
		return err
	}
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) InsertReceipt(_ context.Context, r rollup.Receipt) error {
	defer m.lock()()

	if _, ok := m.state.receipts[r.ID]; ok {
		return rollup.ErrDuplicateReceipt
	}
	if nk, ok := naturalKey(r); ok {
		if _, exists := m.state.receiptNumbers[nk]; exists {
			return rollup.ErrDuplicateReceipt
		}
		m.state.receiptNumbers[nk] = r.ID
	}
	m.state.receipts[r.ID] = r
	return nil
}

func (m *Memory) InsertReceiptBatch(_ context.Context, receipts []rollup.Receipt) (int, error) {
	defer m.lock()()

	inserted := 0
	for _, r := range receipts {
		if _, ok := m.state.receipts[r.ID]; ok {
			continue
		}
		nk, hasNK := naturalKey(r)
		if hasNK {
			if _, exists := m.state.receiptNumbers[nk]; exists {
				continue
			}
			m.state.receiptNumbers[nk] = r.ID
		}
		m.state.receipts[r.ID] = r
		inserted++
	}
	return inserted, nil
}

func (m *Memory) GetReceipt(_ context.Context, id rollup.ReceiptID) (rollup.Receipt, error) {
	defer m.lock()()

	r, ok := m.state.receipts[id]
	if !ok {
		return rollup.Receipt{}, rollup.ErrReceiptNotFound
	}
	return r, nil
}

func (m *Memory) UpdateReceipt(_ context.Context, r rollup.Receipt) error {
	defer m.lock()()

	old, ok := m.state.receipts[r.ID]
	if !ok {
		return rollup.ErrReceiptNotFound
	}
	if nk, had := naturalKey(old); had {
		delete(m.state.receiptNumbers, nk)
	}
	if nk, has := naturalKey(r); has {
		if owner, exists := m.state.receiptNumbers[nk]; exists && owner != r.ID {
			return rollup.ErrDuplicateReceipt
		}
		m.state.receiptNumbers[nk] = r.ID
	}
	r.UpdatedAt = time.Now().UTC()
	m.state.receipts[r.ID] = r
	return nil
}

func (m *Memory) MarkCancelled(_ context.Context, id rollup.ReceiptID) error {
	defer m.lock()()

	r, ok := m.state.receipts[id]
	if !ok {
		return rollup.ErrReceiptNotFound
	}
	r.Cancelled = true
	r.UpdatedAt = time.Now().UTC()
	m.state.receipts[id] = r
	return nil
}

func (m *Memory) ListReceipts(_ context.Context, f rollup.ReceiptFilter) ([]rollup.Receipt, error) {
	defer m.lock()()

	var result []rollup.Receipt
	for _, r := range m.state.receipts {
		if !matches(r, f) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) ReceiptsForMonth(_ context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.Receipt, error) {
	defer m.lock()()

	var result []rollup.Receipt
	for _, r := range m.state.receipts {
		if r.Cancelled || r.CommitteeID != committeeID {
			continue
		}
		if r.Date.Year() == year && r.Date.Month() == month {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func matches(r rollup.Receipt, f rollup.ReceiptFilter) bool {
	if r.Cancelled && !f.IncludeCancelled {
		return false
	}
	if f.CommitteeID != "" && r.CommitteeID != f.CommitteeID {
		return false
	}
	if f.TraderID != "" && r.TraderID != f.TraderID {
		return false
	}
	if f.CommodityID != "" && r.CommodityID != f.CommodityID {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(rollup.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(rollup.Day(f.To)) {
		return false
	}
	return true
}

func naturalKey(r rollup.Receipt) (receiptNumberKey, bool) {
	if r.BookNumber == "" || r.ReceiptNumber == "" {
		return receiptNumberKey{}, false
	}
	return receiptNumberKey{committee: r.CommitteeID, book: r.BookNumber, number: r.ReceiptNumber}, true
}

// =============================================================================
// REFERENCE STORE
// =============================================================================

func (m *Memory) EnsureTrader(_ context.Context, committeeID rollup.CommitteeID, name string) (rollup.TraderID, error) {
	defer m.lock()()

	k := traderKey{committee: committeeID, name: strings.TrimSpace(name)}
	if t, ok := m.state.traders[k]; ok {
		return t.ID, nil
	}
	t := rollup.Trader{
		ID:          rollup.TraderID(uuid.NewString()),
		CommitteeID: committeeID,
		Name:        k.name,
		CreatedAt:   time.Now().UTC(),
	}
	m.state.traders[k] = t
	return t.ID, nil
}

func (m *Memory) EnsureCommodity(_ context.Context, name string) (rollup.CommodityID, error) {
	defer m.lock()()

	k := strings.TrimSpace(name)
	if c, ok := m.state.commodities[k]; ok {
		return c.ID, nil
	}
	c := rollup.Commodity{
		ID:        rollup.CommodityID(uuid.NewString()),
		Name:      k,
		CreatedAt: time.Now().UTC(),
	}
	m.state.commodities[k] = c
	return c.ID, nil
}

// =============================================================================
// ROLLUP STORE - ApplyDelta
// =============================================================================

func (m *Memory) ApplyDelta(_ context.Context, key rollup.RollupKey, delta rollup.Contribution) error {
	defer m.lock()()

	switch k := key.(type) {
	case rollup.DailyKey:
		return m.state.applyDaily(k, delta)
	case rollup.CommitteeMonthKey:
		return m.state.applyCommitteeMonthly(k, delta)
	case rollup.TraderMonthKey:
		return m.state.applyTraderMonthly(k, delta)
	case rollup.TraderOverallKey:
		return m.state.applyTraderOverall(k, delta)
	case rollup.CommodityMonthKey:
		return m.state.applyCommodityMonthly(k, delta)
	case rollup.CommodityOverallKey:
		return m.state.applyCommodityOverall(k, delta)
	default:
		return &rollup.ConsistencyError{Key: key.String(), Counter: "unknown key type"}
	}
}

func (st *state) applyDaily(k rollup.DailyKey, delta rollup.Contribution) error {
	mk := dailyKey{committee: k.CommitteeID, date: rollup.Day(k.Date).Format("2006-01-02")}
	row, ok := st.daily[mk]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		st.daily[mk] = &rollup.DailyAnalytics{
			CommitteeID:         k.CommitteeID,
			Date:                rollup.Day(k.Date),
			Sums:                rollup.SumsOf(delta),
			FeesByNature:        copyNature(delta.FeesByNature),
			FeesByLocation:      copyLocation(delta.FeesByLocation),
			DistinctTraders:     delta.DistinctTraders,
			DistinctCommodities: delta.DistinctCommodities,
		}
		return nil
	}
	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	return rollup.ApplyFeeBuckets(k, row.FeesByNature, row.FeesByLocation, delta)
}

func (st *state) applyCommitteeMonthly(k rollup.CommitteeMonthKey, delta rollup.Contribution) error {
	row, ok := st.committeeMonthly[k]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		row = &rollup.CommitteeMonthlyAnalytics{
			CommitteeID:         k.CommitteeID,
			CheckpostID:         k.CheckpostID,
			Year:                k.Year,
			Month:               k.Month,
			Sums:                rollup.SumsOf(delta),
			FeesByNature:        copyNature(delta.FeesByNature),
			FeesByLocation:      copyLocation(delta.FeesByLocation),
			DistinctTraders:     delta.DistinctTraders,
			DistinctCommodities: delta.DistinctCommodities,
		}
		// Denormalized target snapshot, taken at row creation.
		if t, ok := st.targets[rollup.TargetKey{
			CommitteeID: k.CommitteeID,
			CheckpostID: k.CheckpostID,
			Year:        k.Year,
			Month:       k.Month,
		}]; ok && t.IsActive {
			ft := t.MarketFeeTarget
			row.FeeTarget = &ft
			if t.TotalValueTarget != nil {
				vt := *t.TotalValueTarget
				row.ValueTarget = &vt
			}
		}
		st.committeeMonthly[k] = row
		return nil
	}
	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	return rollup.ApplyFeeBuckets(k, row.FeesByNature, row.FeesByLocation, delta)
}

func (st *state) applyTraderMonthly(k rollup.TraderMonthKey, delta rollup.Contribution) error {
	row, ok := st.traderMonthly[k]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		st.traderMonthly[k] = &rollup.TraderMonthlyAnalytics{
			TraderID:    k.TraderID,
			CommitteeID: k.CommitteeID,
			Year:        k.Year,
			Month:       k.Month,
			Sums:        rollup.SumsOf(delta),
		}
		return nil
	}
	return rollup.ApplySums(k, &row.Sums, delta)
}

func (st *state) applyTraderOverall(k rollup.TraderOverallKey, delta rollup.Contribution) error {
	row, ok := st.traderOverall[k]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		st.traderOverall[k] = &rollup.TraderOverallAnalytics{
			TraderID:             k.TraderID,
			CommitteeID:          k.CommitteeID,
			Sums:                 rollup.SumsOf(delta),
			FirstTransactionDate: delta.EarliestDate,
			LastTransactionDate:  delta.LatestDate,
		}
		return nil
	}
	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	rollup.AdvanceLastDate(&row.LastTransactionDate, delta)
	return nil
}

func (st *state) applyCommodityMonthly(k rollup.CommodityMonthKey, delta rollup.Contribution) error {
	row, ok := st.commodityMonthly[k]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		st.commodityMonthly[k] = &rollup.CommodityMonthlyAnalytics{
			CommodityID: k.CommodityID,
			CommitteeID: k.CommitteeID,
			Year:        k.Year,
			Month:       k.Month,
			Sums:        rollup.SumsOf(delta),
		}
		return nil
	}
	return rollup.ApplySums(k, &row.Sums, delta)
}

func (st *state) applyCommodityOverall(k rollup.CommodityOverallKey, delta rollup.Contribution) error {
	row, ok := st.commodityOverall[k]
	if !ok {
		if err := rollup.CheckCreatable(k, delta); err != nil {
			return err
		}
		st.commodityOverall[k] = &rollup.CommodityOverallAnalytics{
			CommodityID:          k.CommodityID,
			CommitteeID:          k.CommitteeID,
			Sums:                 rollup.SumsOf(delta),
			FirstTransactionDate: delta.EarliestDate,
			LastTransactionDate:  delta.LatestDate,
		}
		return nil
	}
	if err := rollup.ApplySums(k, &row.Sums, delta); err != nil {
		return err
	}
	rollup.AdvanceLastDate(&row.LastTransactionDate, delta)
	return nil
}

func copyNature(m map[rollup.NatureOfReceipt]decimal.Decimal) map[rollup.NatureOfReceipt]decimal.Decimal {
	out := make(map[rollup.NatureOfReceipt]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyLocation(m map[rollup.CollectionLocation]decimal.Decimal) map[rollup.CollectionLocation]decimal.Decimal {
	out := make(map[rollup.CollectionLocation]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// ROLLUP STORE - Reads
// =============================================================================

func (m *Memory) GetDaily(_ context.Context, key rollup.DailyKey) (rollup.DailyAnalytics, error) {
	defer m.lock()()

	mk := dailyKey{committee: key.CommitteeID, date: rollup.Day(key.Date).Format("2006-01-02")}
	row, ok := m.state.daily[mk]
	if !ok {
		return rollup.DailyAnalytics{}, rollup.ErrRollupNotFound
	}
	out := *row
	out.FeesByNature = copyNature(row.FeesByNature)
	out.FeesByLocation = copyLocation(row.FeesByLocation)
	return out, nil
}

func (m *Memory) GetCommitteeMonthly(_ context.Context, key rollup.CommitteeMonthKey) (rollup.CommitteeMonthlyAnalytics, error) {
	defer m.lock()()

	row, ok := m.state.committeeMonthly[key]
	if !ok {
		return rollup.CommitteeMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	out := *row
	out.FeesByNature = copyNature(row.FeesByNature)
	out.FeesByLocation = copyLocation(row.FeesByLocation)
	return out, nil
}

func (m *Memory) GetTraderMonthly(_ context.Context, key rollup.TraderMonthKey) (rollup.TraderMonthlyAnalytics, error) {
	defer m.lock()()

	row, ok := m.state.traderMonthly[key]
	if !ok {
		return rollup.TraderMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	return *row, nil
}

func (m *Memory) GetTraderOverall(_ context.Context, key rollup.TraderOverallKey) (rollup.TraderOverallAnalytics, error) {
	defer m.lock()()

	row, ok := m.state.traderOverall[key]
	if !ok {
		return rollup.TraderOverallAnalytics{}, rollup.ErrRollupNotFound
	}
	return *row, nil
}

func (m *Memory) GetCommodityMonthly(_ context.Context, key rollup.CommodityMonthKey) (rollup.CommodityMonthlyAnalytics, error) {
	defer m.lock()()

	row, ok := m.state.commodityMonthly[key]
	if !ok {
		return rollup.CommodityMonthlyAnalytics{}, rollup.ErrRollupNotFound
	}
	return *row, nil
}

func (m *Memory) GetCommodityOverall(_ context.Context, key rollup.CommodityOverallKey) (rollup.CommodityOverallAnalytics, error) {
	defer m.lock()()

	row, ok := m.state.commodityOverall[key]
	if !ok {
		return rollup.CommodityOverallAnalytics{}, rollup.ErrRollupNotFound
	}
	return *row, nil
}

func (m *Memory) QueryDaily(_ context.Context, committeeID rollup.CommitteeID, from, to time.Time) ([]rollup.DailyAnalytics, error) {
	defer m.lock()()

	fromDay, toDay := rollup.Day(from), rollup.Day(to)
	var result []rollup.DailyAnalytics
	for _, row := range m.state.daily {
		if row.CommitteeID != committeeID || row.Date.Before(fromDay) || row.Date.After(toDay) {
			continue
		}
		out := *row
		out.FeesByNature = copyNature(row.FeesByNature)
		out.FeesByLocation = copyLocation(row.FeesByLocation)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (m *Memory) ListCommitteeMonthly(_ context.Context, committeeID rollup.CommitteeID, year int) ([]rollup.CommitteeMonthlyAnalytics, error) {
	defer m.lock()()

	var result []rollup.CommitteeMonthlyAnalytics
	for _, row := range m.state.committeeMonthly {
		if row.CommitteeID != committeeID || row.Year != year {
			continue
		}
		out := *row
		out.FeesByNature = copyNature(row.FeesByNature)
		out.FeesByLocation = copyLocation(row.FeesByLocation)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Month != result[j].Month {
			return result[i].Month < result[j].Month
		}
		return result[i].CheckpostID < result[j].CheckpostID
	})
	return result, nil
}

func (m *Memory) ListTraderMonthly(_ context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.TraderMonthlyAnalytics, error) {
	defer m.lock()()

	var result []rollup.TraderMonthlyAnalytics
	for _, row := range m.state.traderMonthly {
		if row.CommitteeID != committeeID || row.Year != year || row.Month != month {
			continue
		}
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Fees.GreaterThan(result[j].Fees) })
	return result, nil
}

func (m *Memory) ListCommodityMonthly(_ context.Context, committeeID rollup.CommitteeID, year int, month time.Month) ([]rollup.CommodityMonthlyAnalytics, error) {
	defer m.lock()()

	var result []rollup.CommodityMonthlyAnalytics
	for _, row := range m.state.commodityMonthly {
		if row.CommitteeID != committeeID || row.Year != year || row.Month != month {
			continue
		}
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Fees.GreaterThan(result[j].Fees) })
	return result, nil
}

func (m *Memory) DeleteMonthRollups(_ context.Context, committeeID rollup.CommitteeID, year int, month time.Month) error {
	defer m.lock()()

	prefix := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
	for k := range m.state.daily {
		if k.committee == committeeID && strings.HasPrefix(k.date, prefix) {
			delete(m.state.daily, k)
		}
	}
	for k := range m.state.committeeMonthly {
		if k.CommitteeID == committeeID && k.Year == year && k.Month == month {
			delete(m.state.committeeMonthly, k)
		}
	}
	for k := range m.state.traderMonthly {
		if k.CommitteeID == committeeID && k.Year == year && k.Month == month {
			delete(m.state.traderMonthly, k)
		}
	}
	for k := range m.state.commodityMonthly {
		if k.CommitteeID == committeeID && k.Year == year && k.Month == month {
			delete(m.state.commodityMonthly, k)
		}
	}
	return nil
}

// =============================================================================
// TARGET STORE
// =============================================================================

func (m *Memory) SetTarget(_ context.Context, t rollup.Target) error {
	defer m.lock()()

	key := rollup.TargetKey{
		CommitteeID: t.CommitteeID,
		CheckpostID: t.CheckpostID,
		Year:        t.Year,
		Month:       t.Month,
		CommodityID: t.CommodityID,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if existing, ok := m.state.targets[key]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.state.targets[key] = t

	// Refresh the denormalized snapshot on an existing monthly row.
	if t.CommodityID == "" {
		mk := rollup.CommitteeMonthKey{
			CommitteeID: t.CommitteeID,
			CheckpostID: t.CheckpostID,
			Year:        t.Year,
			Month:       t.Month,
		}
		if row, ok := m.state.committeeMonthly[mk]; ok {
			if t.IsActive {
				ft := t.MarketFeeTarget
				row.FeeTarget = &ft
				row.ValueTarget = nil
				if t.TotalValueTarget != nil {
					vt := *t.TotalValueTarget
					row.ValueTarget = &vt
				}
			} else {
				row.FeeTarget = nil
				row.ValueTarget = nil
			}
		}
	}
	return nil
}

func (m *Memory) GetActiveTarget(_ context.Context, key rollup.TargetKey) (rollup.Target, error) {
	defer m.lock()()

	t, ok := m.state.targets[key]
	if !ok || !t.IsActive {
		return rollup.Target{}, rollup.ErrTargetNotFound
	}
	return t, nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

func (st *state) clone() *state {
	out := &state{
		receipts:         make(map[rollup.ReceiptID]rollup.Receipt, len(st.receipts)),
		receiptNumbers:   make(map[receiptNumberKey]rollup.ReceiptID, len(st.receiptNumbers)),
		traders:          make(map[traderKey]rollup.Trader, len(st.traders)),
		commodities:      make(map[string]rollup.Commodity, len(st.commodities)),
		daily:            make(map[dailyKey]*rollup.DailyAnalytics, len(st.daily)),
		committeeMonthly: make(map[rollup.CommitteeMonthKey]*rollup.CommitteeMonthlyAnalytics, len(st.committeeMonthly)),
		traderMonthly:    make(map[rollup.TraderMonthKey]*rollup.TraderMonthlyAnalytics, len(st.traderMonthly)),
		traderOverall:    make(map[rollup.TraderOverallKey]*rollup.TraderOverallAnalytics, len(st.traderOverall)),
		commodityMonthly: make(map[rollup.CommodityMonthKey]*rollup.CommodityMonthlyAnalytics, len(st.commodityMonthly)),
		commodityOverall: make(map[rollup.CommodityOverallKey]*rollup.CommodityOverallAnalytics, len(st.commodityOverall)),
		targets:          make(map[rollup.TargetKey]rollup.Target, len(st.targets)),
	}
	for k, v := range st.receipts {
		out.receipts[k] = v
	}
	for k, v := range st.receiptNumbers {
		out.receiptNumbers[k] = v
	}
	for k, v := range st.traders {
		out.traders[k] = v
	}
	for k, v := range st.commodities {
		out.commodities[k] = v
	}
	for k, v := range st.daily {
		row := *v
		row.FeesByNature = copyNature(v.FeesByNature)
		row.FeesByLocation = copyLocation(v.FeesByLocation)
		out.daily[k] = &row
	}
	for k, v := range st.committeeMonthly {
		row := *v
		row.FeesByNature = copyNature(v.FeesByNature)
		row.FeesByLocation = copyLocation(v.FeesByLocation)
		out.committeeMonthly[k] = &row
	}
	for k, v := range st.traderMonthly {
		row := *v
		out.traderMonthly[k] = &row
	}
	for k, v := range st.traderOverall {
		row := *v
		out.traderOverall[k] = &row
	}
	for k, v := range st.commodityMonthly {
		row := *v
		out.commodityMonthly[k] = &row
	}
	for k, v := range st.commodityOverall {
		row := *v
		out.commodityOverall[k] = &row
	}
	for k, v := range st.targets {
		out.targets[k] = v
	}
	return out
}
