// Package procfs implements the counter reader (C1): parsing the raw
// kernel counter files the metrics pipeline builds on top of. Every
// reader here tolerates a missing or malformed file by returning a
// zero value rather than an error — procfs availability varies across
// kernel versions and container sandboxes, and the caller's job is to
// degrade, not crash.
package procfs

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Reader reads counter files rooted at a configurable procfs path, so
// tests can point it at a testdata fixture tree instead of the real
// /proc.
type Reader struct {
	root string
}

// NewReader returns a Reader rooted at root (normally "/proc").
func NewReader(root string) *Reader {
	if root == "" {
		root = "/proc"
	}
	return &Reader{root: root}
}

func (r *Reader) path(parts ...string) string {
	return filepath.Join(append([]string{r.root}, parts...)...)
}

// KeyValueFile parses a procfs key/value file such as meminfo or
// vmstat: each line is "KEY[:] VALUE [unit]". Values with a trailing
// " kB" unit are returned in kB as written, unconverted — callers that
// need bytes multiply by 1024 themselves. A missing file or one with
// no parseable lines returns an empty, non-nil map.
func (r *Reader) KeyValueFile(relPath string) map[string]int64 {
	result := make(map[string]int64)
	f, err := os.Open(r.path(relPath))
	if err != nil {
		return result
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		result[key] = val
	}
	return result
}

// Meminfo reads /proc/meminfo.
func (r *Reader) Meminfo() map[string]int64 {
	return r.KeyValueFile("meminfo")
}

// Vmstat reads /proc/vmstat.
func (r *Reader) Vmstat() map[string]int64 {
	return r.KeyValueFile("vmstat")
}

// CPUTimes is the parsed aggregate "cpu" line of /proc/stat.
type CPUTimes struct {
	User, Nice, System, Idle, IOWait, IRQ, SoftIRQ, Steal int64
	// IdleAll is Idle+IOWait; Total is the sum of all eight fields.
	IdleAll, Total int64
}

// Stat reads the aggregate "cpu" line of /proc/stat. Reports ok=false
// if the file is missing or its first line isn't a "cpu " line.
func (r *Reader) Stat() (CPUTimes, bool) {
	f, err := os.Open(r.path("stat"))
	if err != nil {
		return CPUTimes{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return CPUTimes{}, false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 || fields[0] != "cpu" {
		return CPUTimes{}, false
	}

	nums := make([]int64, 8)
	for i := 1; i < len(fields) && i <= 8; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			v = 0
		}
		nums[i-1] = v
	}

	t := CPUTimes{
		User: nums[0], Nice: nums[1], System: nums[2], Idle: nums[3],
		IOWait: nums[4], IRQ: nums[5], SoftIRQ: nums[6], Steal: nums[7],
	}
	t.IdleAll = t.Idle + t.IOWait
	nonIdle := t.User + t.Nice + t.System + t.IRQ + t.SoftIRQ + t.Steal
	t.Total = t.IdleAll + nonIdle
	return t, true
}

// PSI is one line of a /proc/pressure/{memory,cpu} file.
type PSI struct {
	Avg10, Avg60, Avg300 float64
	Total                int64
}

// PressureMemory reads /proc/pressure/memory, returning the "some"
// and "full" lines. Either is the zero PSI if the file or line is
// absent (kernel predates PSI support, or cgroup doesn't expose it).
func (r *Reader) PressureMemory() (some, full PSI) {
	return r.readPressure("pressure/memory")
}

// PressureCPU reads /proc/pressure/cpu's "some" line. "full" does not
// exist for CPU pressure and is always zero.
func (r *Reader) PressureCPU() (some, full PSI) {
	return r.readPressure("pressure/cpu")
}

func (r *Reader) readPressure(relPath string) (some, full PSI) {
	f, err := os.Open(r.path(relPath))
	if err != nil {
		return PSI{}, PSI{}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		psi := parsePSIFields(fields[1:])
		switch fields[0] {
		case "some":
			some = psi
		case "full":
			full = psi
		}
	}
	return some, full
}

func parsePSIFields(fields []string) PSI {
	var psi PSI
	for _, field := range fields {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "avg10":
			psi.Avg10, _ = strconv.ParseFloat(parts[1], 64)
		case "avg60":
			psi.Avg60, _ = strconv.ParseFloat(parts[1], 64)
		case "avg300":
			psi.Avg300, _ = strconv.ParseFloat(parts[1], 64)
		case "total":
			psi.Total, _ = strconv.ParseInt(parts[1], 10, 64)
		}
	}
	return psi
}

// Uptime reads the first field of /proc/uptime (seconds since boot).
// Returns 0, false if the file is missing or malformed.
func (r *Reader) Uptime() (float64, bool) {
	data, err := os.ReadFile(r.path("uptime"))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
