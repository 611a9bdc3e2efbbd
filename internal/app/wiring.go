package app

import (
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/jobs"
)

// NewGLReposter builds the GL collaborator the repost service hands affected
// vouchers to. The returned close func releases the sink and is never nil.
func NewGLReposter(cfg *Config, enqueuer jobs.TaskEnqueuer, logger *slog.Logger) (repost.GLReposter, func() error, error) {
	noop := func() error { return nil }
	switch cfg.GLRepostSink {
	case GLSinkTask:
		if enqueuer == nil {
			return nil, noop, fmt.Errorf("app: gl sink %q needs a task enqueuer", GLSinkTask)
		}
		return jobs.NewTaskGLReposter(enqueuer), noop, nil
	case GLSinkKafka:
		sink := integration.NewKafkaGLReposter(cfg.KafkaBrokers, cfg.KafkaGLTopic, logger)
		return sink, sink.Close, nil
	case GLSinkLog:
		return integration.NewLogGLReposter(logger), noop, nil
	}
	return nil, noop, fmt.Errorf("app: unknown gl sink %q", cfg.GLRepostSink)
}

// NewGLDownstream builds the sink the worker delivers queued GL batches to:
// Kafka when brokers are configured, the log otherwise.
func NewGLDownstream(cfg *Config, logger *slog.Logger) (repost.GLReposter, func() error) {
	if len(cfg.KafkaBrokers) > 0 {
		sink := integration.NewKafkaGLReposter(cfg.KafkaBrokers, cfg.KafkaGLTopic, logger)
		return sink, sink.Close
	}
	return integration.NewLogGLReposter(logger), func() error { return nil }
}

// NewNotifier returns the failure notifier, or nil when mail is not configured.
func NewNotifier(cfg *Config, enqueuer jobs.TaskEnqueuer) repost.Notifier {
	if !cfg.MailEnabled() || enqueuer == nil {
		return nil
	}
	return jobs.NewMailNotifier(enqueuer, cfg.RepostNotifyRole, cfg.RepostNotifyEmails)
}
