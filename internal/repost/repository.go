package repost

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

const (
	jobsTable           = "repost_item_valuations"
	fiscalClosingsTable = "fiscal_year_closings"
	periodsTable        = "accounting_periods"
	closingStockTable   = "closing_stock_balances"
)

var jobColumns = []string{
	"id", "based_on", "voucher_type", "voucher_no", "item_code", "warehouse",
	"posted_at", "company", "status", "cancelled", "allow_negative_stock",
	"allow_zero_rate", "via_landed_cost_voucher", "current_index", "total_items",
	"gl_reposting_index", "checkpoint", "checkpoint_codec", "error_log", "warnings",
	"created_at", "updated_at",
}

// Repository persists repost jobs in PostgreSQL next to the ledger.
type Repository struct {
	pool *pgxpool.Pool
	opts []db.TxOption
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, opts: append([]db.TxOption{db.WithName("repost.tx")}, opts...)}
}

// WithTx executes fn in one transaction shared by the ledger and the job table.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:      tx,
			ledger:  ledger.NewTx(tx),
			builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		})
	}, r.opts...)
}

type txRepo struct {
	tx      pgx.Tx
	ledger  ledger.Tx
	builder squirrel.StatementBuilderType
}

func (r *txRepo) Ledger() ledger.Tx { return r.ledger }

type jobRow struct {
	ID                   string    `db:"id"`
	BasedOn              string    `db:"based_on"`
	VoucherType          string    `db:"voucher_type"`
	VoucherNo            string    `db:"voucher_no"`
	ItemCode             string    `db:"item_code"`
	Warehouse            string    `db:"warehouse"`
	PostedAt             time.Time `db:"posted_at"`
	Company              string    `db:"company"`
	Status               string    `db:"status"`
	Cancelled            bool      `db:"cancelled"`
	AllowNegativeStock   bool      `db:"allow_negative_stock"`
	AllowZeroRate        bool      `db:"allow_zero_rate"`
	ViaLandedCostVoucher bool      `db:"via_landed_cost_voucher"`
	CurrentIndex         int       `db:"current_index"`
	TotalItems           int       `db:"total_items"`
	GLIndex              int       `db:"gl_reposting_index"`
	Checkpoint           []byte    `db:"checkpoint"`
	CheckpointCodec      string    `db:"checkpoint_codec"`
	ErrorLog             string    `db:"error_log"`
	Warnings             []string  `db:"warnings"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (row jobRow) toJob() (Job, error) {
	job := Job{
		ID:                   row.ID,
		BasedOn:              BasedOn(row.BasedOn),
		ItemCode:             row.ItemCode,
		Warehouse:            row.Warehouse,
		PostedAt:             row.PostedAt,
		Company:              row.Company,
		Status:               Status(row.Status),
		Cancelled:            row.Cancelled,
		AllowNegativeStock:   row.AllowNegativeStock,
		AllowZeroRate:        row.AllowZeroRate,
		ViaLandedCostVoucher: row.ViaLandedCostVoucher,
		CurrentIndex:         row.CurrentIndex,
		TotalItems:           row.TotalItems,
		GLIndex:              row.GLIndex,
		ErrorLog:             row.ErrorLog,
		Warnings:             row.Warnings,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if row.VoucherType != "" {
		vt, err := ledger.ParseVoucherType(row.VoucherType)
		if err != nil {
			return Job{}, err
		}
		job.Voucher = ledger.VoucherRef{Type: vt, No: row.VoucherNo}
	}
	cp, err := DecodeCheckpoint(row.Checkpoint, row.CheckpointCodec)
	if err != nil {
		return Job{}, fmt.Errorf("repost: job %s: %w", row.ID, err)
	}
	job.Checkpoint = cp
	return job, nil
}

func jobValues(job Job) (map[string]any, error) {
	payload, codec, err := EncodeCheckpoint(job.Checkpoint)
	if err != nil {
		return nil, err
	}
	warnings := job.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	voucherType := ""
	if !job.Voucher.IsZero() {
		voucherType = job.Voucher.Type.String()
	}
	return map[string]any{
		"id":                      job.ID,
		"based_on":                string(job.BasedOn),
		"voucher_type":            voucherType,
		"voucher_no":              job.Voucher.No,
		"item_code":               job.ItemCode,
		"warehouse":               job.Warehouse,
		"posted_at":               job.PostedAt,
		"company":                 job.Company,
		"status":                  string(job.Status),
		"cancelled":               job.Cancelled,
		"allow_negative_stock":    job.AllowNegativeStock,
		"allow_zero_rate":         job.AllowZeroRate,
		"via_landed_cost_voucher": job.ViaLandedCostVoucher,
		"current_index":           job.CurrentIndex,
		"total_items":             job.TotalItems,
		"gl_reposting_index":      job.GLIndex,
		"checkpoint":              payload,
		"checkpoint_codec":        codec,
		"error_log":               job.ErrorLog,
		"warnings":                warnings,
		"created_at":              job.CreatedAt,
		"updated_at":              job.UpdatedAt,
	}, nil
}

func (r *txRepo) exec(ctx context.Context, q squirrel.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("repost: build statement: %w", err)
	}
	tag, err := r.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) selectJobs(ctx context.Context, q squirrel.SelectBuilder) ([]Job, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("repost: build query: %w", err)
	}
	var rows []jobRow
	if err := pgxscan.Select(ctx, r.tx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("repost: select jobs: %w", err)
	}
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *txRepo) InsertJob(ctx context.Context, job Job) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, r.builder.Insert(jobsTable).SetMap(values)); err != nil {
		return fmt.Errorf("repost: insert job: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateJob(ctx context.Context, job Job) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	delete(values, "id")
	delete(values, "created_at")
	n, err := r.exec(ctx, r.builder.Update(jobsTable).SetMap(values).Where(squirrel.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("repost: update job %s: %w", job.ID, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *txRepo) GetJob(ctx context.Context, id string) (Job, error) {
	q := r.builder.Select(jobColumns...).From(jobsTable).Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE")
	jobs, err := r.selectJobs(ctx, q)
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, ErrJobNotFound
	}
	return jobs[0], nil
}

func statusValues(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func (r *txRepo) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	q := r.builder.Select(jobColumns...).From(jobsTable).OrderBy("created_at DESC", "id")
	if len(filter.Statuses) > 0 {
		q = q.Where(squirrel.Eq{"status": statusValues(filter.Statuses)})
	}
	if filter.BasedOn != "" {
		q = q.Where(squirrel.Eq{"based_on": string(filter.BasedOn)})
	}
	if !filter.Voucher.IsZero() {
		q = q.Where(squirrel.Eq{"voucher_type": filter.Voucher.Type.String(), "voucher_no": filter.Voucher.No})
	}
	if filter.ItemCode != "" {
		q = q.Where(squirrel.Eq{"item_code": filter.ItemCode})
	}
	if filter.Warehouse != "" {
		q = q.Where(squirrel.Eq{"warehouse": filter.Warehouse})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return r.selectJobs(ctx, q.Limit(uint64(limit)))
}

func (r *txRepo) DueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	q := r.builder.Select(jobColumns...).From(jobsTable).
		Where(squirrel.Eq{"status": statusValues([]Status{StatusQueued, StatusInProgress})}).
		Where(squirrel.LtOrEq{"created_at": now}).
		OrderBy("posted_at", "created_at", "status")
	return r.selectJobs(ctx, q)
}

func (r *txRepo) SkipSuperseded(ctx context.Context, job Job, now time.Time) (int, error) {
	q := r.builder.Update(jobsTable).
		Set("status", string(StatusSkipped)).
		Set("updated_at", now).
		Where(squirrel.Eq{
			"based_on":  string(BasedOnItemWarehouse),
			"status":    string(StatusQueued),
			"item_code": job.ItemCode,
			"warehouse": job.Warehouse,
		}).
		Where(squirrel.NotEq{"id": job.ID}).
		Where(squirrel.Gt{"posted_at": job.PostedAt})
	n, err := r.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("repost: skip superseded jobs: %w", err)
	}
	return int(n), nil
}

func (r *txRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := r.builder.Delete(jobsTable).
		Where(squirrel.Eq{"status": statusValues([]Status{StatusCompleted, StatusSkipped})}).
		Where(squirrel.Lt{"updated_at": cutoff})
	n, err := r.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("repost: clear old logs: %w", err)
	}
	return n, nil
}

func (r *txRepo) LastClosedFiscalYearEnd(ctx context.Context, company string) (time.Time, bool, error) {
	q := r.builder.Select("MAX(year_end)").From(fiscalClosingsTable).Where(squirrel.Eq{"company": company})
	sql, args, err := q.ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("repost: build query: %w", err)
	}
	var end *time.Time
	if err := r.tx.QueryRow(ctx, sql, args...).Scan(&end); err != nil {
		return time.Time{}, false, fmt.Errorf("repost: last closed fiscal year: %w", err)
	}
	if end == nil {
		return time.Time{}, false, nil
	}
	return *end, true, nil
}

func (r *txRepo) ClosedAccountingPeriod(ctx context.Context, company string, vt ledger.VoucherType, on time.Time) (FiscalPeriod, bool, error) {
	q := r.builder.Select("name", "start_date", "end_date").From(periodsTable).
		Where(squirrel.Eq{"company": company, "closed": true}).
		Where(squirrel.Expr("? = ANY(closed_documents)", vt.String())).
		Where(squirrel.LtOrEq{"start_date": on}).
		Where(squirrel.GtOrEq{"end_date": on}).
		OrderBy("end_date DESC").
		Limit(1)
	sql, args, err := q.ToSql()
	if err != nil {
		return FiscalPeriod{}, false, fmt.Errorf("repost: build query: %w", err)
	}
	var row struct {
		Name  string    `db:"name"`
		Start time.Time `db:"start_date"`
		End   time.Time `db:"end_date"`
	}
	if err := pgxscan.Get(ctx, r.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return FiscalPeriod{}, false, nil
		}
		return FiscalPeriod{}, false, fmt.Errorf("repost: closed accounting period: %w", err)
	}
	return FiscalPeriod{Name: row.Name, Start: row.Start, End: row.End}, true, nil
}

func (r *txRepo) ClosingStockBalance(ctx context.Context, company, itemCode, warehouse string, on time.Time) (ClosingBalance, bool, error) {
	q := r.builder.Select("name", "item_code", "warehouse", "to_date").From(closingStockTable).
		Where(squirrel.Eq{"company": company, "status": "Completed"}).
		Where(squirrel.GtOrEq{"to_date": on}).
		Where(squirrel.Eq{"item_code": []string{"", itemCode}}).
		Where(squirrel.Eq{"warehouse": []string{"", warehouse}}).
		OrderBy("to_date DESC").
		Limit(1)
	sql, args, err := q.ToSql()
	if err != nil {
		return ClosingBalance{}, false, fmt.Errorf("repost: build query: %w", err)
	}
	var row struct {
		Name      string    `db:"name"`
		ItemCode  string    `db:"item_code"`
		Warehouse string    `db:"warehouse"`
		ToDate    time.Time `db:"to_date"`
	}
	if err := pgxscan.Get(ctx, r.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ClosingBalance{}, false, nil
		}
		return ClosingBalance{}, false, fmt.Errorf("repost: closing stock balance: %w", err)
	}
	return ClosingBalance{Name: row.Name, ItemCode: row.ItemCode, Warehouse: row.Warehouse, ToDate: row.ToDate}, true, nil
}
