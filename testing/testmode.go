// Package testing switches the binaries into test mode when blank-imported by a test.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

// defaults keep LoadConfig away from live infrastructure during tests.
var defaults = map[string]string{
	"ODYSSEY_TEST_MODE":       "1",
	"GOTENBERG_URL":           "http://127.0.0.1:0",
	"NOTIFY_URL":              "http://127.0.0.1:0",
	"LEDGER_DISTRIBUTED_LOCK": "false",
	"MIGRATE_ON_START":        "false",
}

func ensureTestMode() {
	once.Do(func() {
		for key, value := range defaults {
			if key != "ODYSSEY_TEST_MODE" && os.Getenv(key) != "" {
				continue
			}
			_ = os.Setenv(key, value)
		}
	})
}

func init() {
	ensureTestMode()
}
