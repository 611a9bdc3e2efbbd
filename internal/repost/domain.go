package repost

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status enumerates repost job states.
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusSkipped    Status = "Skipped"
	StatusFailed     Status = "Failed"
)

// Active reports whether the job still has work to do.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusInProgress
}

// Terminal reports whether the job reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// BasedOn selects what a job reposts.
type BasedOn string

const (
	// BasedOnTransaction reposts every chain touched by a voucher.
	BasedOnTransaction BasedOn = "Transaction"
	// BasedOnItemWarehouse reposts one item in one warehouse.
	BasedOnItemWarehouse BasedOn = "Item and Warehouse"
)

var (
	ErrJobNotFound       = fmt.Errorf("repost: job not found: %w", httpx.ErrNotFound)
	ErrInvalidRequest    = fmt.Errorf("repost: invalid request: %w", httpx.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("repost: invalid status transition: %w", httpx.ErrConflict)
	// ErrRepostInProgress refuses cancelling a voucher whose own repost is running.
	ErrRepostInProgress error = &conflictError{msg: "Cannot cancel the transaction. Reposting of item valuation on submission is not completed yet."}
	// ErrPendingProcessing refuses cancelling a job whose voucher was cancelled meanwhile.
	ErrPendingProcessing error = &conflictError{msg: "Cannot cancel as processing of cancelled documents is pending. Please try again in an hour."}
	ErrPeriodClosed            = fmt.Errorf("repost: period closed: %w", httpx.ErrConflict)
	ErrAccountingFrozen        = fmt.Errorf("repost: accounts frozen: %w", httpx.ErrConflict)
	ErrCheckpointVersion       = errors.New("repost: unsupported checkpoint version")
	ErrLockNotObtained         = errors.New("repost: job lock not obtained")
	// ErrLockLost aborts a run whose lock could not be extended.
	ErrLockLost = fmt.Errorf("%w: lock lost while running", ErrLockNotObtained)
)

// conflictError is a user-facing message that maps to 409.
type conflictError struct {
	msg string
}

func (e *conflictError) Error() string { return e.msg }

func (e *conflictError) Unwrap() error { return httpx.ErrConflict }

// PeriodClosedError reports a repost dated inside a closed period.
type PeriodClosedError struct {
	Reason string
	Until  time.Time
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("Due to %s, you cannot repost item valuation before %s", e.Reason, e.Until.Format("2006-01-02"))
}

// Is matches ErrPeriodClosed.
func (e *PeriodClosedError) Is(target error) bool {
	return target == ErrPeriodClosed || errors.Is(ErrPeriodClosed, target)
}

// AccountingFrozenError reports a repost dated on or before the frozen-accounts date.
type AccountingFrozenError struct {
	Upto time.Time
}

func (e *AccountingFrozenError) Error() string {
	return fmt.Sprintf("You cannot repost item valuation before %s", e.Upto.Format("2006-01-02"))
}

// Is matches ErrAccountingFrozen.
func (e *AccountingFrozenError) Is(target error) bool {
	return target == ErrAccountingFrozen || errors.Is(ErrAccountingFrozen, target)
}

// Job is a persisted Repost Item Valuation request.
type Job struct {
	ID                   string            `json:"id"`
	BasedOn              BasedOn           `json:"based_on"`
	Voucher              ledger.VoucherRef `json:"voucher"`
	ItemCode             string            `json:"item_code,omitempty"`
	Warehouse            string            `json:"warehouse,omitempty"`
	PostedAt             time.Time         `json:"posted_at"`
	Company              string            `json:"company"`
	Status               Status            `json:"status"`
	Cancelled            bool              `json:"cancelled"`
	AllowNegativeStock   bool              `json:"allow_negative_stock"`
	AllowZeroRate        bool              `json:"allow_zero_rate"`
	ViaLandedCostVoucher bool              `json:"via_landed_cost_voucher"`
	CurrentIndex         int               `json:"current_index"`
	TotalItems           int               `json:"total_items"`
	GLIndex              int               `json:"gl_reposting_index"`
	Checkpoint           *Checkpoint       `json:"-"`
	ErrorLog             string            `json:"error_log,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Key returns the chain of an Item-and-Warehouse job.
func (j Job) Key() ledger.Key {
	return ledger.Key{ItemCode: j.ItemCode, Warehouse: j.Warehouse}
}

// ResetProgress clears the checkpoint so the next run walks from scratch.
func (j *Job) ResetProgress() {
	j.CurrentIndex = 0
	j.TotalItems = 0
	j.GLIndex = 0
	j.Checkpoint = nil
}

// ScheduleRequest creates a repost job.
type ScheduleRequest struct {
	BasedOn              BasedOn           `json:"based_on" validate:"omitempty,oneof='Transaction' 'Item and Warehouse'"`
	Voucher              ledger.VoucherRef `json:"voucher"`
	ItemCode             string            `json:"item_code"`
	Warehouse            string            `json:"warehouse"`
	PostedAt             time.Time         `json:"posted_at" validate:"required"`
	Company              string            `json:"company"`
	AllowZeroRate        bool              `json:"allow_zero_rate"`
	ViaLandedCostVoucher bool              `json:"via_landed_cost_voucher"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	Statuses  []Status
	BasedOn   BasedOn
	Voucher   ledger.VoucherRef
	ItemCode  string
	Warehouse string
	Limit     int
}

// RunSummary reports one sweep over due jobs.
type RunSummary struct {
	Skipped   bool `json:"skipped_outside_timeslot"`
	Processed int  `json:"processed"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Retried   int  `json:"retried"`
	Deduped   int  `json:"deduplicated"`
}
