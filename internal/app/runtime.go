package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// testModeEnv, when truthy, makes the entry points exit before touching
// Postgres, Redis or the network.
const testModeEnv = "MISE_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func readTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	return err == nil && on
}

// InTestMode reports whether the binaries run under a test harness.
func InTestMode() bool {
	testModeOnce.Do(func() { testMode.Store(readTestMode()) })
	return testMode.Load()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	testMode.Store(readTestMode())
}
