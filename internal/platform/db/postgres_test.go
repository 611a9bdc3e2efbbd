package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfigAppliesOptions(t *testing.T) {
	cfg, err := ParseConfig("postgres://u:p@localhost:5432/stockledger",
		WithMaxConns(7),
		WithStatementTimeout(30*time.Second),
		WithApplicationName("stockledger-worker"),
	)
	require.NoError(t, err)
	require.EqualValues(t, 7, cfg.MaxConns)
	require.Equal(t, "30000", cfg.ConnConfig.RuntimeParams["statement_timeout"])
	require.Equal(t, "stockledger-worker", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestParseConfigIgnoresZeroOptions(t *testing.T) {
	base, err := ParseConfig("postgres://u:p@localhost:5432/stockledger")
	require.NoError(t, err)
	cfg, err := ParseConfig("postgres://u:p@localhost:5432/stockledger", WithMaxConns(0), WithStatementTimeout(0))
	require.NoError(t, err)
	require.Equal(t, base.MaxConns, cfg.MaxConns)
	_, ok := cfg.ConnConfig.RuntimeParams["statement_timeout"]
	require.False(t, ok)
}

func TestParseConfigRejectsBadDSN(t *testing.T) {
	_, err := ParseConfig("postgres://%zz")
	require.Error(t, err)
}
