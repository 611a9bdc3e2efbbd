package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	_ "github.com/odyssey-erp/stockledger/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, GLSinkTask, cfg.GLRepostSink)
	require.Equal(t, "stock.gl_repost", cfg.KafkaGLTopic)
	require.Equal(t, "Stock Manager", cfg.RepostNotifyRole)
	require.Equal(t, 90*24*time.Hour, cfg.RepostLogRetention)
	require.Equal(t, 10*time.Minute, cfg.RepostLockTTL)
	require.False(t, cfg.MailEnabled())
	require.EqualValues(t, 10, cfg.PGMaxConns)
	require.Equal(t, 30*time.Second, cfg.PGStatementTimeout)

	pool, err := db.ParseConfig(cfg.PGDSN, cfg.PoolOptions("stockledger")...)
	require.NoError(t, err)
	require.EqualValues(t, 10, pool.MaxConns)
	require.Equal(t, "30000", pool.ConnConfig.RuntimeParams["statement_timeout"])

	pc := cfg.PostingConfig()
	require.EqualValues(t, 3, pc.FloatPrecision)
	require.EqualValues(t, 2, pc.CurrencyPrecision)
	require.False(t, pc.AllowNegativeStock)
}

func TestRepostConfigFromEnv(t *testing.T) {
	t.Setenv("REPOST_LIMIT_TIMESLOT", "true")
	t.Setenv("REPOST_START_TIME", "22:00")
	t.Setenv("REPOST_END_TIME", "04:30")
	t.Setenv("REPOST_EXEMPT_WEEKDAY", "Sunday")
	t.Setenv("ACCOUNTS_FROZEN_UPTO", "2024-03-01")
	t.Setenv("FROZEN_ACCOUNTS_MODIFIER", "Accounts Manager")
	t.Setenv("STOCK_ITEM_BASED_REPOSTING", "true")
	t.Setenv("REPOST_NOTIFY_EMAILS", "ops@example.com,stock@example.com")
	t.Setenv("SMTP_HOST", "mail.local")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.MailEnabled())
	require.Equal(t, []string{"ops@example.com", "stock@example.com"}, cfg.RepostNotifyEmails)

	rc, err := cfg.RepostConfig()
	require.NoError(t, err)
	require.True(t, rc.Sync, "test mode runs jobs synchronously")
	require.True(t, rc.ItemBased)
	require.True(t, rc.Window.Enabled)
	require.Equal(t, 22*time.Hour, rc.Window.Start)
	require.Equal(t, 4*time.Hour+30*time.Minute, rc.Window.End)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rc.Guard.FrozenUpto)
	require.Equal(t, "Accounts Manager", rc.Guard.FrozenModifierRole)
	require.Equal(t, 55*time.Minute, rc.JobTimeout)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown sink":       {"GL_REPOST_SINK": "ftp"},
		"kafka sans brokers": {"GL_REPOST_SINK": "kafka"},
		"bad frozen date":    {"ACCOUNTS_FROZEN_UPTO": "01/03/2024"},
		"bad window":         {"REPOST_START_TIME": "25:99"},
		"bad weekday":        {"REPOST_EXEMPT_WEEKDAY": "Caturday"},
		"bad duration":       {"REPOST_LOCK_TTL": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestKafkaSinkNeedsBrokers(t *testing.T) {
	t.Setenv("GL_REPOST_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}
