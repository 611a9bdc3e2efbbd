package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

const (
	entriesTable      = "stock_ledger_entries"
	binsTable         = "bins"
	itemsTable        = "items"
	batchesTable      = "batches"
	serialNosTable    = "serial_nos"
	itemPricesTable   = "item_prices"
	voucherLinesTable = "stock_voucher_lines"
)

var entryColumns = []string{
	"id", "item_code", "warehouse", "company", "posted_at", "creation",
	"voucher_type", "voucher_no", "voucher_detail_no", "dependant_voucher_detail_no",
	"actual_qty", "incoming_rate", "outgoing_rate", "valuation_rate",
	"qty_after_transaction", "stock_value", "stock_value_difference", "stock_queue",
	"serial_nos", "batch_no", "is_cancelled", "recalculate_rate",
	"allow_zero_valuation_rate", "previous_qty_after_transaction",
}

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	opts []db.TxOption
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, opts: append([]db.TxOption{db.WithName("ledger.tx")}, opts...)}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTx(tx))
	}, r.opts...)
}

// NewTx wraps an open pgx transaction so other stores can share it.
func NewTx(tx pgx.Tx) Tx {
	return &txRepo{tx: tx, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

type txRepo struct {
	tx      pgx.Tx
	builder squirrel.StatementBuilderType
}

type entryRow struct {
	ID                          string    `db:"id"`
	ItemCode                    string    `db:"item_code"`
	Warehouse                   string    `db:"warehouse"`
	Company                     string    `db:"company"`
	PostedAt                    time.Time `db:"posted_at"`
	Creation                    time.Time `db:"creation"`
	VoucherType                 string    `db:"voucher_type"`
	VoucherNo                   string    `db:"voucher_no"`
	VoucherDetailNo             string    `db:"voucher_detail_no"`
	DependantVoucherDetailNo    string    `db:"dependant_voucher_detail_no"`
	ActualQty                   float64   `db:"actual_qty"`
	IncomingRate                float64   `db:"incoming_rate"`
	OutgoingRate                float64   `db:"outgoing_rate"`
	ValuationRate               float64   `db:"valuation_rate"`
	QtyAfterTransaction         float64   `db:"qty_after_transaction"`
	StockValue                  float64   `db:"stock_value"`
	StockValueDifference        float64   `db:"stock_value_difference"`
	StockQueue                  []byte    `db:"stock_queue"`
	SerialNos                   []string  `db:"serial_nos"`
	BatchNo                     string    `db:"batch_no"`
	IsCancelled                 bool      `db:"is_cancelled"`
	RecalculateRate             bool      `db:"recalculate_rate"`
	AllowZeroValuationRate      bool      `db:"allow_zero_valuation_rate"`
	PreviousQtyAfterTransaction *float64  `db:"previous_qty_after_transaction"`
}

func (row entryRow) toEntry() (Entry, error) {
	vt, err := ParseVoucherType(row.VoucherType)
	if err != nil {
		return Entry{}, err
	}
	var queue valuation.Queue
	if len(row.StockQueue) > 0 {
		if err := json.Unmarshal(row.StockQueue, &queue); err != nil {
			return Entry{}, fmt.Errorf("ledger: decode stock queue of %s: %w", row.ID, err)
		}
	}
	return Entry{
		ID:                          row.ID,
		ItemCode:                    row.ItemCode,
		Warehouse:                   row.Warehouse,
		Company:                     row.Company,
		PostedAt:                    row.PostedAt,
		Creation:                    row.Creation,
		VoucherType:                 vt,
		VoucherNo:                   row.VoucherNo,
		VoucherDetailNo:             row.VoucherDetailNo,
		DependantVoucherDetailNo:    row.DependantVoucherDetailNo,
		ActualQty:                   row.ActualQty,
		IncomingRate:                row.IncomingRate,
		OutgoingRate:                row.OutgoingRate,
		ValuationRate:               row.ValuationRate,
		QtyAfterTransaction:         row.QtyAfterTransaction,
		StockValue:                  row.StockValue,
		StockValueDifference:        row.StockValueDifference,
		StockQueue:                  queue,
		SerialNos:                   row.SerialNos,
		BatchNo:                     row.BatchNo,
		IsCancelled:                 row.IsCancelled,
		RecalculateRate:             row.RecalculateRate,
		AllowZeroValuationRate:      row.AllowZeroValuationRate,
		PreviousQtyAfterTransaction: row.PreviousQtyAfterTransaction,
	}, nil
}

func encodeQueue(q valuation.Queue) ([]byte, error) {
	if q == nil {
		q = valuation.Queue{}
	}
	return json.Marshal(q)
}

func (r *txRepo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]Entry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []entryRow
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("ledger: select entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *txRepo) firstEntry(ctx context.Context, q squirrel.SelectBuilder) (Entry, bool, error) {
	entries, err := r.selectEntries(ctx, q.Limit(1))
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

func (r *txRepo) exec(ctx context.Context, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("ledger: build statement: %w", err)
	}
	_, err = r.tx.Exec(ctx, sql, args...)
	return err
}

func (r *txRepo) chain(key Key) squirrel.SelectBuilder {
	return r.builder.Select(entryColumns...).From(entriesTable).
		Where(squirrel.Eq{"item_code": key.ItemCode, "warehouse": key.Warehouse, "is_cancelled": false})
}

func excludeVoucher(q squirrel.SelectBuilder, ref VoucherRef) squirrel.SelectBuilder {
	if ref.IsZero() {
		return q
	}
	return q.Where(squirrel.Or{
		squirrel.NotEq{"voucher_type": ref.Type.String()},
		squirrel.NotEq{"voucher_no": ref.No},
	})
}

func (r *txRepo) InsertEntry(ctx context.Context, e Entry) error {
	queue, err := encodeQueue(e.StockQueue)
	if err != nil {
		return err
	}
	serials := e.SerialNos
	if serials == nil {
		serials = []string{}
	}
	q := r.builder.Insert(entriesTable).Columns(entryColumns...).Values(
		e.ID, e.ItemCode, e.Warehouse, e.Company, e.PostedAt, e.Creation,
		e.VoucherType.String(), e.VoucherNo, e.VoucherDetailNo, e.DependantVoucherDetailNo,
		e.ActualQty, e.IncomingRate, e.OutgoingRate, e.ValuationRate,
		e.QtyAfterTransaction, e.StockValue, e.StockValueDifference, queue,
		serials, e.BatchNo, e.IsCancelled, e.RecalculateRate,
		e.AllowZeroValuationRate, e.PreviousQtyAfterTransaction,
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateEntryValuation(ctx context.Context, e Entry) error {
	queue, err := encodeQueue(e.StockQueue)
	if err != nil {
		return err
	}
	q := r.builder.Update(entriesTable).SetMap(map[string]any{
		"actual_qty":                     e.ActualQty,
		"incoming_rate":                  e.IncomingRate,
		"outgoing_rate":                  e.OutgoingRate,
		"valuation_rate":                 e.ValuationRate,
		"qty_after_transaction":          e.QtyAfterTransaction,
		"stock_value":                    e.StockValue,
		"stock_value_difference":         e.StockValueDifference,
		"stock_queue":                    queue,
		"recalculate_rate":               e.RecalculateRate,
		"previous_qty_after_transaction": e.PreviousQtyAfterTransaction,
	}).Where(squirrel.Eq{"id": e.ID})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: update entry %s: %w", e.ID, err)
	}
	return nil
}

func (r *txRepo) CancelVoucherEntries(ctx context.Context, ref VoucherRef) error {
	q := r.builder.Update(entriesTable).Set("is_cancelled", true).
		Where(squirrel.Eq{"voucher_type": ref.Type.String(), "voucher_no": ref.No})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: cancel %s: %w", ref, err)
	}
	return nil
}

func (r *txRepo) EntriesByVoucher(ctx context.Context, ref VoucherRef) ([]Entry, error) {
	q := r.builder.Select(entryColumns...).From(entriesTable).
		Where(squirrel.Eq{"voucher_type": ref.Type.String(), "voucher_no": ref.No, "is_cancelled": false}).
		OrderBy("creation", "id")
	return r.selectEntries(ctx, q)
}

func (r *txRepo) VoucherPairs(ctx context.Context, ref VoucherRef) ([]Entry, error) {
	q := r.builder.Select(entryColumns...).
		Options("DISTINCT ON (item_code, warehouse)").
		From(entriesTable).
		Where(squirrel.Eq{"voucher_type": ref.Type.String(), "voucher_no": ref.No}).
		OrderBy("item_code", "warehouse", "creation", "id")
	entries, err := r.selectEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Creation.Before(entries[j].Creation)
	})
	return entries, nil
}

func (r *txRepo) EntryByDetailNo(ctx context.Context, detailNo, excludeID string) (Entry, bool, error) {
	q := r.builder.Select(entryColumns...).From(entriesTable).
		Where(squirrel.Eq{"voucher_detail_no": detailNo, "is_cancelled": false}).
		OrderBy("creation")
	if excludeID != "" {
		q = q.Where(squirrel.NotEq{"id": excludeID})
	}
	return r.firstEntry(ctx, q)
}

func (r *txRepo) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	q := r.builder.Select(entryColumns...).From(entriesTable).
		Where(squirrel.Eq{"is_cancelled": false}).
		OrderBy("posted_at", "creation")
	if filter.ItemCode != "" {
		q = q.Where(squirrel.Eq{"item_code": filter.ItemCode})
	}
	if filter.Warehouse != "" {
		q = q.Where(squirrel.Eq{"warehouse": filter.Warehouse})
	}
	if !filter.Voucher.IsZero() {
		q = q.Where(squirrel.Eq{"voucher_type": filter.Voucher.Type.String(), "voucher_no": filter.Voucher.No})
	}
	if !filter.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"posted_at": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(squirrel.LtOrEq{"posted_at": filter.To})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	return r.selectEntries(ctx, q.Limit(uint64(limit)))
}

func (r *txRepo) PreviousEntry(ctx context.Context, pq PreviousQuery) (Entry, bool, error) {
	q := r.chain(pq.Key).OrderBy("posted_at DESC", "creation DESC")
	switch {
	case pq.Inclusive:
		q = q.Where(squirrel.LtOrEq{"posted_at": pq.Before.PostedAt})
	case pq.Before.Creation.IsZero():
		q = q.Where(squirrel.Lt{"posted_at": pq.Before.PostedAt})
	default:
		q = q.Where(squirrel.Expr("(posted_at, creation) < (?, ?)", pq.Before.PostedAt, pq.Before.Creation))
	}
	q = excludeVoucher(q, pq.ExcludeVoucher)
	if pq.ExcludeID != "" {
		q = q.Where(squirrel.NotEq{"id": pq.ExcludeID})
	}
	return r.firstEntry(ctx, q.Suffix("FOR UPDATE"))
}

func (r *txRepo) LatestEntry(ctx context.Context, key Key) (Entry, bool, error) {
	return r.firstEntry(ctx, r.chain(key).OrderBy("posted_at DESC", "creation DESC"))
}

func (r *txRepo) EntriesFrom(ctx context.Context, key Key, from Point) ([]Entry, error) {
	q := r.chain(key).OrderBy("posted_at", "creation")
	if from.Creation.IsZero() {
		q = q.Where(squirrel.GtOrEq{"posted_at": from.PostedAt})
	} else {
		q = q.Where(squirrel.Expr("(posted_at, creation) >= (?, ?)", from.PostedAt, from.Creation))
	}
	return r.selectEntries(ctx, q.Suffix("FOR UPDATE"))
}

func (r *txRepo) EntriesAt(ctx context.Context, key Key, postedAt time.Time) ([]Entry, error) {
	q := r.chain(key).Where(squirrel.Eq{"posted_at": postedAt}).OrderBy("creation")
	return r.selectEntries(ctx, q.Suffix("FOR UPDATE"))
}

func (r *txRepo) ShiftQtyAfter(ctx context.Context, req ShiftRequest) error {
	q := r.builder.Update(entriesTable).
		Set("qty_after_transaction", squirrel.Expr("qty_after_transaction + ?", req.Delta)).
		Where(squirrel.Eq{"item_code": req.Key.ItemCode, "warehouse": req.Key.Warehouse, "is_cancelled": false}).
		Where(squirrel.Gt{"posted_at": req.After})
	if !req.ExcludeVoucher.IsZero() {
		q = q.Where(squirrel.Or{
			squirrel.NotEq{"voucher_type": req.ExcludeVoucher.Type.String()},
			squirrel.NotEq{"voucher_no": req.ExcludeVoucher.No},
		})
	}
	if req.Until != nil {
		q = q.Where(squirrel.Expr("(posted_at, creation) < (?, ?)", req.Until.PostedAt, req.Until.Creation))
	}
	if req.BatchNo != "" {
		q = q.Where(squirrel.Eq{"batch_no": req.BatchNo})
	}
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: shift qty for %s: %w", req.Key, err)
	}
	return nil
}

func (r *txRepo) NextReconciliation(ctx context.Context, key Key, after Point, exclude VoucherRef, batchNo string) (Entry, bool, error) {
	q := r.chain(key).
		Where(squirrel.Eq{"voucher_type": VoucherStockReconciliation.String()}).
		Where(squirrel.Expr("(posted_at, creation) > (?, ?)", after.PostedAt, after.Creation)).
		OrderBy("posted_at", "creation")
	q = excludeVoucher(q, exclude)
	if batchNo != "" {
		q = q.Where(squirrel.Eq{"batch_no": batchNo})
	}
	return r.firstEntry(ctx, q)
}

func (r *txRepo) FirstNegative(ctx context.Context, nq NegativeQuery) (Entry, bool, error) {
	q := r.chain(nq.Key).
		Where(squirrel.GtOrEq{"posted_at": nq.From}).
		Where(squirrel.Lt{"qty_after_transaction": 0}).
		OrderBy("posted_at", "creation")
	q = excludeVoucher(q, nq.ExcludeVoucher)
	if nq.BatchNo != "" {
		q = q.Where(squirrel.Eq{"batch_no": nq.BatchNo})
	}
	return r.firstEntry(ctx, q)
}

func (r *txRepo) FirstNegativeBatch(ctx context.Context, nq NegativeQuery) (BatchBalance, bool, error) {
	inner := r.builder.Select(entryColumns...).
		Column("SUM(actual_qty) OVER (ORDER BY posted_at, creation ROWS UNBOUNDED PRECEDING) AS cumulative_total").
		From(entriesTable).
		Where(squirrel.Eq{
			"item_code":    nq.Key.ItemCode,
			"warehouse":    nq.Key.Warehouse,
			"batch_no":     nq.BatchNo,
			"is_cancelled": false,
		})
	q := r.builder.Select("*").FromSelect(inner, "running").
		Where(squirrel.Lt{"cumulative_total": 0}).
		Where(squirrel.GtOrEq{"posted_at": nq.From}).
		OrderBy("posted_at", "creation").
		Limit(1)
	sql, args, err := q.ToSql()
	if err != nil {
		return BatchBalance{}, false, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []struct {
		entryRow
		CumulativeTotal float64 `db:"cumulative_total"`
	}
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return BatchBalance{}, false, fmt.Errorf("ledger: batch balance: %w", err)
	}
	if len(rows) == 0 {
		return BatchBalance{}, false, nil
	}
	e, err := rows[0].toEntry()
	if err != nil {
		return BatchBalance{}, false, err
	}
	return BatchBalance{Entry: e, Cumulative: rows[0].CumulativeTotal}, true, nil
}

func (r *txRepo) BatchTotals(ctx context.Context, key Key, batchNo string, before Point, exclude VoucherRef) (float64, float64, error) {
	q := r.builder.Select("COALESCE(SUM(actual_qty), 0)", "COALESCE(SUM(stock_value_difference), 0)").
		From(entriesTable).
		Where(squirrel.Eq{"item_code": key.ItemCode, "warehouse": key.Warehouse, "batch_no": batchNo, "is_cancelled": false})
	switch {
	case before.PostedAt.IsZero():
	case before.Creation.IsZero():
		q = q.Where(squirrel.Lt{"posted_at": before.PostedAt})
	default:
		q = q.Where(squirrel.Expr("(posted_at, creation) < (?, ?)", before.PostedAt, before.Creation))
	}
	q = excludeVoucher(q, exclude)
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: build query: %w", err)
	}
	var qty, value float64
	if err := r.tx.QueryRow(ctx, sql, args...).Scan(&qty, &value); err != nil {
		return 0, 0, fmt.Errorf("ledger: batch totals: %w", err)
	}
	return qty, value, nil
}

func (r *txRepo) lastRate(ctx context.Context, q squirrel.SelectBuilder) (float64, bool, error) {
	sql, args, err := q.OrderBy("posted_at DESC", "creation DESC").Limit(1).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("ledger: build query: %w", err)
	}
	var rate float64
	if err := r.tx.QueryRow(ctx, sql, args...).Scan(&rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("ledger: last valuation rate: %w", err)
	}
	return rate, true, nil
}

func (r *txRepo) LastValuationRate(ctx context.Context, key Key, exclude VoucherRef) (float64, bool, error) {
	q := r.builder.Select("valuation_rate").From(entriesTable).
		Where(squirrel.Eq{"item_code": key.ItemCode, "warehouse": key.Warehouse, "is_cancelled": false}).
		Where(squirrel.Gt{"valuation_rate": 0})
	return r.lastRate(ctx, excludeVoucher(q, exclude))
}

func (r *txRepo) FutureEntryCounts(ctx context.Context, keys []Key, from time.Time, exclude VoucherRef) (map[Key]int, error) {
	counts := make(map[Key]int, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}
	pairs := make(squirrel.Or, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, squirrel.Eq{"item_code": k.ItemCode, "warehouse": k.Warehouse})
	}
	q := r.builder.Select("item_code", "warehouse", "COUNT(*) AS total").From(entriesTable).
		Where(squirrel.Eq{"is_cancelled": false}).
		Where(squirrel.GtOrEq{"posted_at": from}).
		Where(pairs).
		GroupBy("item_code", "warehouse")
	q = excludeVoucher(q, exclude)
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []struct {
		ItemCode  string `db:"item_code"`
		Warehouse string `db:"warehouse"`
		Total     int    `db:"total"`
	}
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("ledger: future entry counts: %w", err)
	}
	for _, row := range rows {
		counts[Key{ItemCode: row.ItemCode, Warehouse: row.Warehouse}] = row.Total
	}
	return counts, nil
}

func (r *txRepo) FutureVouchers(ctx context.Context, fq FutureVoucherQuery) ([]VoucherRef, error) {
	q := r.builder.Select("voucher_type", "voucher_no", "MIN(posted_at) AS first_posted", "MIN(creation) AS first_created").
		From(entriesTable).
		Where(squirrel.Eq{"is_cancelled": false}).
		Where(squirrel.GtOrEq{"posted_at": fq.From}).
		GroupBy("voucher_type", "voucher_no").
		OrderBy("first_posted", "first_created")
	if len(fq.Items) > 0 {
		q = q.Where(squirrel.Eq{"item_code": fq.Items})
	}
	if len(fq.Warehouses) > 0 {
		q = q.Where(squirrel.Eq{"warehouse": fq.Warehouses})
	}
	if fq.Company != "" {
		q = q.Where(squirrel.Eq{"company": fq.Company})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []struct {
		VoucherType  string    `db:"voucher_type"`
		VoucherNo    string    `db:"voucher_no"`
		FirstPosted  time.Time `db:"first_posted"`
		FirstCreated time.Time `db:"first_created"`
	}
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("ledger: future vouchers: %w", err)
	}
	refs := make([]VoucherRef, 0, len(rows))
	for _, row := range rows {
		vt, err := ParseVoucherType(row.VoucherType)
		if err != nil {
			return nil, err
		}
		refs = append(refs, VoucherRef{Type: vt, No: row.VoucherNo})
	}
	return refs, nil
}

func (r *txRepo) LastSerialIncomingRate(ctx context.Context, company, serialNo string) (float64, bool, error) {
	q := r.builder.Select("incoming_rate").From(entriesTable).
		Where(squirrel.Eq{"company": company, "is_cancelled": false}).
		Where(squirrel.Gt{"actual_qty": 0}).
		Where(squirrel.Expr("? = ANY(serial_nos)", serialNo))
	return r.lastRate(ctx, q)
}

type itemRow struct {
	Code               string  `db:"code"`
	ValuationMethod    string  `db:"valuation_method"`
	ValuationRate      float64 `db:"valuation_rate"`
	StandardRate       float64 `db:"standard_rate"`
	AllowNegativeStock bool    `db:"allow_negative_stock"`
	IsStockItem        bool    `db:"is_stock_item"`
}

func (r *txRepo) Item(ctx context.Context, code string) (Item, error) {
	sql, args, err := r.builder.Select("code", "valuation_method", "valuation_rate", "standard_rate", "allow_negative_stock", "is_stock_item").
		From(itemsTable).Where(squirrel.Eq{"code": code}).ToSql()
	if err != nil {
		return Item{}, fmt.Errorf("ledger: build query: %w", err)
	}
	var row itemRow
	if err := pgxscan.Get(ctx, r.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, code)
		}
		return Item{}, fmt.Errorf("ledger: get item: %w", err)
	}
	method, err := valuation.ParseMethod(row.ValuationMethod)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Code:               row.Code,
		ValuationMethod:    method,
		ValuationRate:      row.ValuationRate,
		StandardRate:       row.StandardRate,
		AllowNegativeStock: row.AllowNegativeStock,
		IsStockItem:        row.IsStockItem,
	}, nil
}

func (r *txRepo) SaveItem(ctx context.Context, item Item) error {
	q := r.builder.Insert(itemsTable).
		Columns("code", "valuation_method", "valuation_rate", "standard_rate", "allow_negative_stock", "is_stock_item").
		Values(item.Code, string(item.ValuationMethod), item.ValuationRate, item.StandardRate, item.AllowNegativeStock, item.IsStockItem).
		Suffix(`ON CONFLICT (code) DO UPDATE SET valuation_method = EXCLUDED.valuation_method,
			valuation_rate = EXCLUDED.valuation_rate, standard_rate = EXCLUDED.standard_rate,
			allow_negative_stock = EXCLUDED.allow_negative_stock, is_stock_item = EXCLUDED.is_stock_item`)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: save item: %w", err)
	}
	return nil
}

func (r *txRepo) Batch(ctx context.Context, batchNo string) (Batch, bool, error) {
	sql, args, err := r.builder.Select("batch_no", "item_code", "use_batchwise_valuation").
		From(batchesTable).Where(squirrel.Eq{"batch_no": batchNo}).ToSql()
	if err != nil {
		return Batch{}, false, fmt.Errorf("ledger: build query: %w", err)
	}
	var row struct {
		No                    string `db:"batch_no"`
		ItemCode              string `db:"item_code"`
		UseBatchwiseValuation bool   `db:"use_batchwise_valuation"`
	}
	if err := pgxscan.Get(ctx, r.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Batch{}, false, nil
		}
		return Batch{}, false, fmt.Errorf("ledger: get batch: %w", err)
	}
	return Batch{No: row.No, ItemCode: row.ItemCode, UseBatchwiseValuation: row.UseBatchwiseValuation}, true, nil
}

func (r *txRepo) SerialNos(ctx context.Context, nos []string) ([]SerialNo, error) {
	if len(nos) == 0 {
		return nil, nil
	}
	sql, args, err := r.builder.Select("serial_no", "item_code", "company", "purchase_rate").
		From(serialNosTable).Where(squirrel.Eq{"serial_no": nos}).OrderBy("serial_no").ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []struct {
		No           string  `db:"serial_no"`
		ItemCode     string  `db:"item_code"`
		Company      string  `db:"company"`
		PurchaseRate float64 `db:"purchase_rate"`
	}
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("ledger: serial nos: %w", err)
	}
	out := make([]SerialNo, 0, len(rows))
	for _, row := range rows {
		out = append(out, SerialNo{No: row.No, ItemCode: row.ItemCode, Company: row.Company, PurchaseRate: row.PurchaseRate})
	}
	return out, nil
}

func (r *txRepo) BuyingRate(ctx context.Context, itemCode string) (float64, bool, error) {
	sql, args, err := r.builder.Select("price_list_rate").From(itemPricesTable).
		Where(squirrel.Eq{"item_code": itemCode, "buying": true}).
		OrderBy("valid_from DESC NULLS LAST").Limit(1).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("ledger: build query: %w", err)
	}
	var rate float64
	if err := r.tx.QueryRow(ctx, sql, args...).Scan(&rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("ledger: buying rate: %w", err)
	}
	return rate, true, nil
}

type binRow struct {
	ItemCode      string    `db:"item_code"`
	Warehouse     string    `db:"warehouse"`
	ActualQty     float64   `db:"actual_qty"`
	ValuationRate float64   `db:"valuation_rate"`
	StockValue    float64   `db:"stock_value"`
	ReservedQty   float64   `db:"reserved_qty"`
	OrderedQty    float64   `db:"ordered_qty"`
	RequestedQty  float64   `db:"requested_qty"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *txRepo) GetBin(ctx context.Context, key Key) (Bin, bool, error) {
	sql, args, err := r.builder.Select("item_code", "warehouse", "actual_qty", "valuation_rate", "stock_value",
		"reserved_qty", "ordered_qty", "requested_qty", "updated_at").
		From(binsTable).
		Where(squirrel.Eq{"item_code": key.ItemCode, "warehouse": key.Warehouse}).
		Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return Bin{}, false, fmt.Errorf("ledger: build query: %w", err)
	}
	var row binRow
	if err := pgxscan.Get(ctx, r.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Bin{ItemCode: key.ItemCode, Warehouse: key.Warehouse}, false, nil
		}
		return Bin{}, false, fmt.Errorf("ledger: get bin: %w", err)
	}
	return Bin(row), true, nil
}

func (r *txRepo) UpsertBin(ctx context.Context, bin Bin) error {
	q := r.builder.Insert(binsTable).
		Columns("item_code", "warehouse", "actual_qty", "valuation_rate", "stock_value",
			"reserved_qty", "ordered_qty", "requested_qty", "updated_at").
		Values(bin.ItemCode, bin.Warehouse, bin.ActualQty, bin.ValuationRate, bin.StockValue,
			bin.ReservedQty, bin.OrderedQty, bin.RequestedQty, bin.UpdatedAt).
		Suffix(`ON CONFLICT (item_code, warehouse) DO UPDATE SET actual_qty = EXCLUDED.actual_qty,
			valuation_rate = EXCLUDED.valuation_rate, stock_value = EXCLUDED.stock_value,
			updated_at = EXCLUDED.updated_at`)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: upsert bin %s: %w", bin.Key(), err)
	}
	return nil
}

var voucherLineColumns = []string{
	"voucher_type", "voucher_no", "detail_no", "item_code", "company", "qty", "rate",
	"valuation_rate", "incoming_rate", "current_qty", "current_valuation_rate",
	"allow_zero_valuation_rate", "is_return", "return_against_detail_no",
	"internal_transfer_detail_no", "is_finished_item", "is_internal_supplier",
}

type voucherLineRow struct {
	VoucherType              string  `db:"voucher_type"`
	VoucherNo                string  `db:"voucher_no"`
	DetailNo                 string  `db:"detail_no"`
	ItemCode                 string  `db:"item_code"`
	Company                  string  `db:"company"`
	Qty                      float64 `db:"qty"`
	Rate                     float64 `db:"rate"`
	ValuationRate            float64 `db:"valuation_rate"`
	IncomingRate             float64 `db:"incoming_rate"`
	CurrentQty               float64 `db:"current_qty"`
	CurrentValuationRate     float64 `db:"current_valuation_rate"`
	AllowZeroValuationRate   bool    `db:"allow_zero_valuation_rate"`
	IsReturn                 bool    `db:"is_return"`
	ReturnAgainstDetailNo    string  `db:"return_against_detail_no"`
	InternalTransferDetailNo string  `db:"internal_transfer_detail_no"`
	IsFinishedItem           bool    `db:"is_finished_item"`
	IsInternalSupplier       bool    `db:"is_internal_supplier"`
}

func (row voucherLineRow) toLine() (VoucherLine, error) {
	vt, err := ParseVoucherType(row.VoucherType)
	if err != nil {
		return VoucherLine{}, err
	}
	return VoucherLine{
		VoucherType:              vt,
		VoucherNo:                row.VoucherNo,
		DetailNo:                 row.DetailNo,
		ItemCode:                 row.ItemCode,
		Company:                  row.Company,
		Qty:                      row.Qty,
		Rate:                     row.Rate,
		ValuationRate:            row.ValuationRate,
		IncomingRate:             row.IncomingRate,
		CurrentQty:               row.CurrentQty,
		CurrentValuationRate:     row.CurrentValuationRate,
		AllowZeroValuationRate:   row.AllowZeroValuationRate,
		IsReturn:                 row.IsReturn,
		ReturnAgainstDetailNo:    row.ReturnAgainstDetailNo,
		InternalTransferDetailNo: row.InternalTransferDetailNo,
		IsFinishedItem:           row.IsFinishedItem,
		IsInternalSupplier:       row.IsInternalSupplier,
	}, nil
}

func (r *txRepo) selectLines(ctx context.Context, q squirrel.SelectBuilder) ([]VoucherLine, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build query: %w", err)
	}
	var rows []voucherLineRow
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("ledger: voucher lines: %w", err)
	}
	lines := make([]VoucherLine, 0, len(rows))
	for _, row := range rows {
		line, err := row.toLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *txRepo) VoucherLine(ctx context.Context, vt VoucherType, detailNo string) (VoucherLine, bool, error) {
	lines, err := r.selectLines(ctx, r.builder.Select(voucherLineColumns...).From(voucherLinesTable).
		Where(squirrel.Eq{"voucher_type": vt.String(), "detail_no": detailNo}).Limit(1))
	if err != nil || len(lines) == 0 {
		return VoucherLine{}, false, err
	}
	return lines[0], true, nil
}

func (r *txRepo) VoucherLines(ctx context.Context, ref VoucherRef) ([]VoucherLine, error) {
	return r.selectLines(ctx, r.builder.Select(voucherLineColumns...).From(voucherLinesTable).
		Where(squirrel.Eq{"voucher_type": ref.Type.String(), "voucher_no": ref.No}).
		OrderBy("detail_no"))
}

func (r *txRepo) SaveVoucherLine(ctx context.Context, l VoucherLine) error {
	q := r.builder.Insert(voucherLinesTable).Columns(voucherLineColumns...).Values(
		l.VoucherType.String(), l.VoucherNo, l.DetailNo, l.ItemCode, l.Company, l.Qty, l.Rate,
		l.ValuationRate, l.IncomingRate, l.CurrentQty, l.CurrentValuationRate,
		l.AllowZeroValuationRate, l.IsReturn, l.ReturnAgainstDetailNo,
		l.InternalTransferDetailNo, l.IsFinishedItem, l.IsInternalSupplier,
	).Suffix(`ON CONFLICT (voucher_type, detail_no) DO UPDATE SET qty = EXCLUDED.qty, rate = EXCLUDED.rate,
		valuation_rate = EXCLUDED.valuation_rate, incoming_rate = EXCLUDED.incoming_rate,
		current_qty = EXCLUDED.current_qty, current_valuation_rate = EXCLUDED.current_valuation_rate`)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ledger: save voucher line %s: %w", l.DetailNo, err)
	}
	return nil
}
