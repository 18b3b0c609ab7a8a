// Package testing forces test mode for any test binary that blank-imports it,
// so the cmd entry points and app runtime never dial real infrastructure.
package testing

import (
	"os"
	stdtesting "testing"
)

func init() {
	if os.Getenv("MISE_TEST_MODE") == "" {
		_ = os.Setenv("MISE_TEST_MODE", "1")
	}
	if os.Getenv("BROADCAST_TRANSPORT") == "" {
		_ = os.Setenv("BROADCAST_TRANSPORT", "hub")
	}
}

// TestMain can be delegated to from a package's own TestMain.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
