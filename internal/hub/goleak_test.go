package hub

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine started by a Hub test (alarm timers,
// room cold-start, eviction) is still running once the package's tests
// finish, mirroring the teacher's room/goleak_test.go.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
