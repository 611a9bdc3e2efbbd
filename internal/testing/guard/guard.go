// Package guard switches the process into test mode when imported, so repost
// jobs run synchronously and commands skip their runtime startup.
package guard

import "os"

// Env is the variable the guard sets.
const Env = "STOCKLEDGER_TEST_MODE"

func init() {
	if v, ok := os.LookupEnv(Env); !ok || v == "" {
		_ = os.Setenv(Env, "1")
	}
}
