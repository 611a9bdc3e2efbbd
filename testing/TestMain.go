package testing

import (
	"os"
	"sort"
	"sync"
	stdtesting "testing"

	"github.com/odyssey-erp/stockledger/internal/testing/guard"
)

// defaults fill the environment of test binaries importing this package.
// Values already exported by the caller win.
var defaults = map[string]string{
	guard.Env:               "1",
	"GL_REPOST_SINK":        "log",
	"LOG_LEVEL":             "warn",
	"REPOST_LIMIT_TIMESLOT": "false",
}

var once sync.Once

func ensureTestEnv() {
	once.Do(func() {
		for _, key := range Keys() {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, defaults[key])
			}
		}
	})
}

// Keys lists the variables set for tests in a stable order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	ensureTestEnv()
}

func TestMain(m *stdtesting.M) {
	ensureTestEnv()
	os.Exit(m.Run())
}
