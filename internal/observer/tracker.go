// Package observer provides observer-effect mitigation for the
// sentinel daemon. It tracks the daemon's own PID so that L2/L3 scans
// can exclude self-generated noise from the suspect set, and it
// measures the daemon's own resource consumption for the shutdown
// overhead log.
package observer

import (
	"os"
	"sync"
)

// PIDTracker records the sentinel daemon's own PID and the resource
// snapshot taken at startup, so L2/L3 scans never flag the daemon
// itself and shutdown can report the daemon's own overhead.
type PIDTracker struct {
	mu      sync.RWMutex
	selfPID int
	before  *beforeSnapshot // set by SnapshotBefore()
}

// NewPIDTracker creates a PIDTracker seeded with the current process PID.
func NewPIDTracker() *PIDTracker {
	return &PIDTracker{selfPID: os.Getpid()}
}

// SelfPID returns the sentinel daemon's own process ID.
func (t *PIDTracker) SelfPID() int {
	return t.selfPID
}

// IsOwnPID reports whether pid is the sentinel daemon itself. L2's
// whitelist step consults this before scoring any PID.
func (t *PIDTracker) IsOwnPID(pid int) bool {
	return pid == t.selfPID
}
