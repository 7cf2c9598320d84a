package observer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OverheadSummary captures the sentinel daemon's own resource
// consumption across its lifetime, logged once on shutdown.
type OverheadSummary struct {
	SelfPID         int   `json:"self_pid"`
	CPUUserMs       int64 `json:"cpu_user_ms"`
	CPUSystemMs     int64 `json:"cpu_system_ms"`
	MemoryRSSBytes  int64 `json:"memory_rss_bytes"`
	DiskReadBytes   int64 `json:"disk_read_bytes"`
	DiskWriteBytes  int64 `json:"disk_write_bytes"`
	ContextSwitches int64 `json:"context_switches"`
}

// procSnapshot holds raw values from /proc/[pid]/stat and /proc/[pid]/io.
type procSnapshot struct {
	utime          uint64 // in clock ticks
	stime          uint64
	rss            int64 // in pages
	voluntaryCtxSw int64
	nonvolCtxSw    int64
	readBytes      int64
	writeBytes     int64
}

// beforeSnapshot stores the initial reading for delta calculation.
type beforeSnapshot struct {
	self procSnapshot
}

// SnapshotBefore records the daemon's own resource usage at startup.
func (t *PIDTracker) SnapshotBefore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.before = &beforeSnapshot{self: readProcSnapshot(t.selfPID)}
}

// SnapshotAfter reads current resource usage and computes the delta
// since SnapshotBefore, for the shutdown overhead log.
func (t *PIDTracker) SnapshotAfter() OverheadSummary {
	t.mu.RLock()
	before := t.before
	t.mu.RUnlock()

	summary := OverheadSummary{SelfPID: t.selfPID}
	if before == nil {
		return summary
	}

	now := readProcSnapshot(t.selfPID)
	summary.CPUUserMs = ticksToMs(now.utime - before.self.utime)
	summary.CPUSystemMs = ticksToMs(now.stime - before.self.stime)
	summary.MemoryRSSBytes = now.rss * 4096
	summary.ContextSwitches = (now.voluntaryCtxSw - before.self.voluntaryCtxSw) +
		(now.nonvolCtxSw - before.self.nonvolCtxSw)
	summary.DiskReadBytes = now.readBytes - before.self.readBytes
	summary.DiskWriteBytes = now.writeBytes - before.self.writeBytes
	return summary
}

// ticksToMs converts clock ticks (typically 100 Hz) to milliseconds.
func ticksToMs(ticks uint64) int64 {
	return int64(ticks) * 10
}

// readProcSnapshot reads /proc/[pid]/stat and /proc/[pid]/io for the
// given PID. Returns zero values if the process no longer exists.
func readProcSnapshot(pid int) procSnapshot {
	var snap procSnapshot

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return snap
	}
	snap = parseProcStat(string(statData))

	ioData, err := os.ReadFile(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return snap
	}
	snap.readBytes, snap.writeBytes = parseProcIO(string(ioData))

	statusData, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return snap
	}
	snap.voluntaryCtxSw, snap.nonvolCtxSw = parseProcStatus(string(statusData))

	return snap
}

// parseProcStat extracts utime, stime, rss from /proc/[pid]/stat content.
func parseProcStat(content string) procSnapshot {
	var snap procSnapshot

	commEnd := strings.LastIndex(content, ")")
	if commEnd < 0 || commEnd+2 >= len(content) {
		return snap
	}

	fields := strings.Fields(content[commEnd+2:])
	if len(fields) > 12 {
		snap.utime, _ = strconv.ParseUint(fields[11], 10, 64)
		snap.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	}
	if len(fields) > 21 {
		snap.rss, _ = strconv.ParseInt(fields[21], 10, 64)
	}

	return snap
}

// parseProcIO extracts read_bytes and write_bytes from /proc/[pid]/io.
func parseProcIO(content string) (readBytes, writeBytes int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ": ", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "read_bytes":
			readBytes = val
		case "write_bytes":
			writeBytes = val
		}
	}
	return
}

// parseProcStatus extracts voluntary/nonvoluntary context switches
// from /proc/[pid]/status.
func parseProcStatus(content string) (voluntary, nonvoluntary int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ":\t", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "voluntary_ctxt_switches":
			voluntary = val
		case "nonvoluntary_ctxt_switches":
			nonvoluntary = val
		}
	}
	return
}
