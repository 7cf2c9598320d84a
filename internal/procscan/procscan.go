// Package procscan implements the process enumerator (C8): listing
// live PIDs and exposing fallible per-PID attribute accessors that
// degrade to "no value" rather than erroring, since a process can
// vanish or deny access between enumeration and inspection.
package procscan

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const clockTicksPerSecond = 100.0

// Scanner enumerates processes from a configurable procfs root.
type Scanner struct {
	procRoot string

	mu         sync.Mutex
	cpuSamples map[int]cpuSample
}

// NewScanner builds a Scanner rooted at procRoot (normally "/proc").
func NewScanner(procRoot string) *Scanner {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Scanner{procRoot: procRoot, cpuSamples: make(map[int]cpuSample)}
}

// PIDs returns every numeric entry under procRoot, i.e. every live
// PID at the moment of the call. The result is a point-in-time
// snapshot; PIDs can disappear before later accessors run.
func (s *Scanner) PIDs() []int {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil
	}
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

func (s *Scanner) pidPath(pid int, parts ...string) string {
	return filepath.Join(append([]string{s.procRoot, strconv.Itoa(pid)}, parts...)...)
}

// statFields is the subset of /proc/[pid]/stat this package parses,
// named by the position they hold relative to the comm field.
type statFields struct {
	comm      string
	state     string
	utime     uint64
	stime     uint64
	numThreads int
	rssPages  int64
	startTicks uint64
	ok        bool
}

func (s *Scanner) readStat(pid int) statFields {
	data, err := os.ReadFile(s.pidPath(pid, "stat"))
	if err != nil {
		return statFields{}
	}
	text := string(data)
	open := strings.IndexByte(text, '(')
	close := strings.LastIndexByte(text, ')')
	if open < 0 || close < 0 || close < open {
		return statFields{}
	}
	comm := text[open+1 : close]
	rest := strings.Fields(text[close+2:])

	sf := statFields{comm: comm, ok: true}
	if len(rest) > 0 {
		sf.state = rest[0]
	}
	if len(rest) > 12 {
		sf.utime, _ = strconv.ParseUint(rest[11], 10, 64)
		sf.stime, _ = strconv.ParseUint(rest[12], 10, 64)
	}
	if len(rest) > 17 {
		sf.numThreads, _ = strconv.Atoi(rest[17])
	}
	if len(rest) > 19 {
		sf.startTicks, _ = strconv.ParseUint(rest[19], 10, 64)
	}
	if len(rest) > 21 {
		sf.rssPages, _ = strconv.ParseInt(rest[21], 10, 64)
	}
	return sf
}

// Name returns the process's comm field. ok is false if the process
// vanished or /proc/[pid]/stat could not be parsed.
func (s *Scanner) Name(pid int) (name string, ok bool) {
	sf := s.readStat(pid)
	return sf.comm, sf.ok
}

// Cmdline returns the process's argv, reconstructed from the
// NUL-separated /proc/[pid]/cmdline. An empty, ok=true result means
// the process is a kernel thread or has no visible command line.
func (s *Scanner) Cmdline(pid int) (args []string, ok bool) {
	data, err := os.ReadFile(s.pidPath(pid, "cmdline"))
	if err != nil {
		return nil, false
	}
	trimmed := strings.TrimRight(string(data), "\x00")
	if trimmed == "" {
		return nil, true
	}
	return strings.Split(trimmed, "\x00"), true
}

// CmdlineString joins Cmdline's arguments with spaces, lowercased, for
// substring matching — mirrors the reference daemon's ' '.join(cmdline).lower().
func (s *Scanner) CmdlineString(pid int) (string, bool) {
	args, ok := s.Cmdline(pid)
	if !ok {
		return "", false
	}
	return strings.ToLower(strings.Join(args, " ")), true
}

// User returns the numeric UID that owns the process, read from the
// "Uid:" line of /proc/[pid]/status.
func (s *Scanner) User(pid int) (uid string, ok bool) {
	data, err := os.ReadFile(s.pidPath(pid, "status"))
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				return fields[1], true
			}
		}
	}
	return "", false
}

// RSSBytes returns the process's resident set size in bytes.
func (s *Scanner) RSSBytes(pid int) (int64, bool) {
	sf := s.readStat(pid)
	if !sf.ok {
		return 0, false
	}
	return sf.rssPages * 4096, true
}

// UptimeSeconds returns how long the process has been running, given
// the current system uptime (from procfs.Reader.Uptime).
func (s *Scanner) UptimeSeconds(pid int, systemUptime float64) (float64, bool) {
	sf := s.readStat(pid)
	if !sf.ok {
		return 0, false
	}
	age := systemUptime - float64(sf.startTicks)/clockTicksPerSecond
	if age < 0 {
		age = 0
	}
	return age, true
}

// cpuSample is one PID's previous utime+stime reading (in clock
// ticks) paired with the wall-clock time it was taken.
type cpuSample struct {
	ticks uint64
	time  float64
}

// CPUPercent derives this PID's instantaneous CPU utilization percent
// (single-core-normalized: 100 is one fully busy core, so a
// multi-threaded process can exceed 100) since the last call for the same
// PID, the per-process analogue of metrics.CPUUtilCalculator. The
// first call for a PID, or a call after utime+stime has gone
// backwards (PID reuse), has no usable prior sample and returns
// ok=false — this is C7's per-PID warmup tick.
func (s *Scanner) CPUPercent(pid int, now float64) (float64, bool) {
	sf := s.readStat(pid)
	if !sf.ok {
		return 0, false
	}
	ticks := sf.utime + sf.stime

	s.mu.Lock()
	prev, hasPrev := s.cpuSamples[pid]
	s.cpuSamples[pid] = cpuSample{ticks: ticks, time: now}
	s.mu.Unlock()

	if !hasPrev || ticks < prev.ticks {
		return 0, false
	}
	deltaTime := now - prev.time
	if deltaTime <= 0 {
		return 0, false
	}
	deltaTicks := ticks - prev.ticks
	pct := (float64(deltaTicks) / clockTicksPerSecond) / deltaTime * 100
	return pct, true
}

// Connection is one TCP or UDP socket a process holds open.
type Connection struct {
	RemoteIP   string
	RemotePort int
	Proto      string // "tcp" or "udp"
}

// Connections enumerates the process's open TCP/UDP sockets by
// matching /proc/[pid]/fd socket inodes against /proc/net/{tcp,udp}.
// Returns an empty, ok=true slice if the process has no eligible
// sockets; ok=false only if the fd directory itself is unreadable.
func (s *Scanner) Connections(pid int) ([]Connection, bool) {
	inodes := s.socketInodes(pid)
	if inodes == nil {
		return nil, false
	}
	if len(inodes) == 0 {
		return nil, true
	}

	var conns []Connection
	conns = append(conns, s.matchNetFile("tcp", inodes)...)
	conns = append(conns, s.matchNetFile("udp", inodes)...)
	return conns, true
}

func (s *Scanner) socketInodes(pid int) map[string]bool {
	entries, err := os.ReadDir(s.pidPath(pid, "fd"))
	if err != nil {
		return nil
	}
	inodes := make(map[string]bool)
	for _, entry := range entries {
		target, err := os.Readlink(s.pidPath(pid, "fd", entry.Name()))
		if err != nil {
			continue
		}
		if strings.HasPrefix(target, "socket:[") && strings.HasSuffix(target, "]") {
			inode := target[len("socket:[") : len(target)-1]
			inodes[inode] = true
		}
	}
	return inodes
}

func (s *Scanner) matchNetFile(proto string, inodes map[string]bool) []Connection {
	data, err := os.ReadFile(filepath.Join(s.procRoot, "net", proto))
	if err != nil {
		return nil
	}
	var conns []Connection
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		inode := fields[9]
		if !inodes[inode] {
			continue
		}
		ip, port, ok := parseHexAddr(fields[2])
		if !ok {
			continue
		}
		conns = append(conns, Connection{RemoteIP: ip, RemotePort: port, Proto: proto})
	}
	return conns
}

// parseHexAddr parses a /proc/net/{tcp,udp} "rem_address" field of the
// form "0100007F:1F90" (little-endian hex IPv4 : hex port).
func parseHexAddr(field string) (ip string, port int, ok bool) {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 8 {
		return "", 0, false
	}
	portVal, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil {
		return "", 0, false
	}
	var octets [4]byte
	for i := 0; i < 4; i++ {
		b, err := strconv.ParseUint(parts[0][i*2:i*2+2], 16, 8)
		if err != nil {
			return "", 0, false
		}
		octets[i] = byte(b)
	}
	// Address bytes are stored in host byte order per 32-bit word, so
	// the human-readable form reverses the byte order printed.
	ipStr := strconv.Itoa(int(octets[3])) + "." + strconv.Itoa(int(octets[2])) + "." +
		strconv.Itoa(int(octets[1])) + "." + strconv.Itoa(int(octets[0]))
	return ipStr, int(portVal), true
}
