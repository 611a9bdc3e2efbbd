package integration

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/stockledger/internal/repost"
)

// LogGLReposter records GL repost requests in the log only. It serves
// deployments without a general ledger attached.
type LogGLReposter struct {
	logger *slog.Logger
}

// NewLogGLReposter constructs a LogGLReposter.
func NewLogGLReposter(logger *slog.Logger) *LogGLReposter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGLReposter{logger: logger.With(slog.String("component", "integration.log"))}
}

// RepostVouchers logs every voucher of the batch.
func (l *LogGLReposter) RepostVouchers(ctx context.Context, req repost.GLRepostRequest) error {
	for _, ref := range req.Vouchers {
		l.logger.InfoContext(ctx, "gl repost requested",
			slog.String("job_id", req.JobID),
			slog.String("company", req.Company),
			slog.Int("batch", req.Batch),
			slog.String("voucher_type", ref.Type.String()),
			slog.String("voucher_no", ref.No),
		)
	}
	return nil
}

var _ repost.GLReposter = (*LogGLReposter)(nil)
