package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/repost"
)

// EventGLRepostRequested is the type header of GL repost events.
const EventGLRepostRequested = "stock.gl_repost_requested"

// VoucherKey names a voucher in GL repost events.
type VoucherKey struct {
	VoucherType string `json:"voucher_type"`
	VoucherNo   string `json:"voucher_no"`
}

// GLRepostEvent asks the general ledger to repost the postings of a voucher batch.
type GLRepostEvent struct {
	ID       uuid.UUID    `json:"id"`
	JobID    string       `json:"job_id"`
	Company  string       `json:"company"`
	PostedAt time.Time    `json:"posted_at"`
	Batch    int          `json:"batch"`
	Vouchers []VoucherKey `json:"vouchers"`
}

// NewGLRepostEvent maps a repost request to an event. The ID is derived from the
// job and batch so a retried batch carries the same ID downstream.
func NewGLRepostEvent(req repost.GLRepostRequest) GLRepostEvent {
	vouchers := make([]VoucherKey, 0, len(req.Vouchers))
	for _, ref := range req.Vouchers {
		vouchers = append(vouchers, VoucherKey{VoucherType: ref.Type.String(), VoucherNo: ref.No})
	}
	return GLRepostEvent{
		ID:       uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("GLREPOST:%s:%d", req.JobID, req.Batch))),
		JobID:    req.JobID,
		Company:  req.Company,
		PostedAt: req.PostedAt.UTC(),
		Batch:    req.Batch,
		Vouchers: vouchers,
	}
}
