package observer

import (
	"os"
	"testing"
)

func TestNewPIDTracker(t *testing.T) {
	tracker := NewPIDTracker()
	if tracker.SelfPID() != os.Getpid() {
		t.Errorf("SelfPID() = %d, want %d", tracker.SelfPID(), os.Getpid())
	}
}

func TestPIDTracker_IsOwnPID(t *testing.T) {
	tracker := NewPIDTracker()

	if !tracker.IsOwnPID(tracker.SelfPID()) {
		t.Error("self PID should be own")
	}
	if tracker.IsOwnPID(99999) {
		t.Error("unknown PID should not be own")
	}
}
