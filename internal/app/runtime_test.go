package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInTestModeFollowsEnv(t *testing.T) {
	t.Cleanup(RefreshTestMode)

	for _, tc := range []struct {
		raw  string
		want bool
	}{
		{"0", false},
		{"", false},
		{"nope", false},
		{"1", true},
		{"true", true},
		{" TRUE ", true},
	} {
		t.Setenv(testModeEnv, tc.raw)
		RefreshTestMode()
		require.Equal(t, tc.want, InTestMode(), "raw %q", tc.raw)
	}
}

func TestSetTestModeRestores(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	t.Cleanup(RefreshTestMode)

	restore := SetTestMode(false)
	require.False(t, InTestMode())
	cfg, err := LoadConfig()
	require.NoError(t, err)
	rc, err := cfg.RepostConfig()
	require.NoError(t, err)
	require.False(t, rc.Sync)

	restore()
	require.True(t, InTestMode())
}
