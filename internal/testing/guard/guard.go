// Package guard switches the process into test mode when imported, so
// entrypoints and app wiring skip network side effects under go test.
package guard

import (
	"os"
	"sync"
)

// Env names the flag read by app.InTestMode.
const Env = "P2P_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
