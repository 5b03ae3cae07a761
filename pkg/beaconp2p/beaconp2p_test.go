package beaconp2p

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no test in this package leaks a goroutine, matching
// the concurrency discipline the facade's Run/Close pair is meant to
// guarantee.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
