package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "STOCKLEDGER_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	testModeFlag.Store(err == nil && on)
}

// InTestMode reports whether reposts run synchronously with errors propagated
// and commands skip their runtime startup. The environment is read once.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads STOCKLEDGER_TEST_MODE after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}

// SetTestMode forces the flag and returns a func restoring the previous value.
func SetTestMode(on bool) (restore func()) {
	prev := InTestMode()
	testModeFlag.Store(on)
	return func() { testModeFlag.Store(prev) }
}
