package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/jobs"
)

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func TestNewGLReposterSelectsSink(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gl, closeFn, err := NewGLReposter(&Config{GLRepostSink: GLSinkTask}, nopEnqueuer{}, logger)
	require.NoError(t, err)
	require.IsType(t, &jobs.TaskGLReposter{}, gl)
	require.NoError(t, closeFn())

	_, _, err = NewGLReposter(&Config{GLRepostSink: GLSinkTask}, nil, logger)
	require.Error(t, err)

	gl, _, err = NewGLReposter(&Config{GLRepostSink: GLSinkLog}, nil, logger)
	require.NoError(t, err)
	require.IsType(t, &integration.LogGLReposter{}, gl)

	gl, closeFn, err = NewGLReposter(&Config{GLRepostSink: GLSinkKafka, KafkaBrokers: []string{"127.0.0.1:9092"}, KafkaGLTopic: "t"}, nil, logger)
	require.NoError(t, err)
	require.IsType(t, &integration.KafkaGLReposter{}, gl)
	require.NoError(t, closeFn())

	_, _, err = NewGLReposter(&Config{GLRepostSink: "ftp"}, nil, logger)
	require.Error(t, err)
}

func TestNewGLDownstreamPrefersKafka(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gl, _ := NewGLDownstream(&Config{}, logger)
	require.IsType(t, &integration.LogGLReposter{}, gl)

	gl, closeFn := NewGLDownstream(&Config{KafkaBrokers: []string{"127.0.0.1:9092"}}, logger)
	require.IsType(t, &integration.KafkaGLReposter{}, gl)
	require.NoError(t, closeFn())
}

func TestNewNotifierNeedsMail(t *testing.T) {
	require.Nil(t, NewNotifier(&Config{}, nopEnqueuer{}))
	cfg := &Config{SMTPHost: "mail.local", RepostNotifyEmails: []string{"ops@example.com"}, RepostNotifyRole: "Stock Manager"}
	require.NotNil(t, NewNotifier(cfg, nopEnqueuer{}))
	require.Nil(t, NewNotifier(cfg, nil))
}
