package server

import (
	"testing"
	"time"
)

// testDeadline bounds a polling loop so a broken run cannot hang the suite
type testDeadline struct {
	t     *testing.T
	until time.Time
}

func newTestDeadline(t *testing.T) *testDeadline {
	t.Helper()
	return &testDeadline{t: t, until: time.Now().Add(5 * time.Second)}
}

// tick sleeps briefly, failing the test when the deadline has passed
func (d *testDeadline) tick() {
	if time.Now().After(d.until) {
		d.t.Fatal("timed out waiting for condition")
	}
	time.Sleep(10 * time.Millisecond)
}
