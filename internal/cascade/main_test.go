package cascade

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the package's tests if any goroutine, such as a decay
// ticker or rate-limiter cleanup loop, is still running after they finish,
// mirroring codeNERD's own local_session_integration_test.go TestMain.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
