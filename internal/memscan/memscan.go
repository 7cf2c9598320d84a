// Package memscan implements the memory string extractor (C9):
// enumerating a process's readable memory regions, pulling a bounded
// prefix of each, and either pattern-matching or literal-searching the
// decoded text.
package memscan

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/baikal/sentinel/internal/model"
)

const maxRegionRead = 512 * 1024

// Patterns is the fixed regex set C9 applies to every readable
// region, compiled once and reused across PIDs and polls.
var Patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[0-9a-f]{64}`),
	regexp.MustCompile(`(?i)[0-9a-f]{60,68}`),
	regexp.MustCompile(`(?i)stratum\+tcp://\S+`),
	regexp.MustCompile(`(?i)mining\.(notify|submit|authorize)`),
	regexp.MustCompile(`(?i)previousblockhash`),
	regexp.MustCompile(`(?i)merkleroot|merkle_root`),
	regexp.MustCompile(`(?i)[0-9a-f]{16,}`),
	regexp.MustCompile(`(?i)0000000[0-9a-f]+`),
}

type region struct {
	start, end uintptr
	readable   bool
}

// Scanner reads a target PID's address space from a configurable
// procfs root.
type Scanner struct {
	procRoot string
}

// NewScanner builds a Scanner rooted at procRoot (normally "/proc").
func NewScanner(procRoot string) *Scanner {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Scanner{procRoot: procRoot}
}

func (s *Scanner) regions(pid int) []region {
	path := filepath.Join(s.procRoot, strconv.Itoa(pid), "maps")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var regions []region
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			continue
		}
		perms := fields[1]
		regions = append(regions, region{
			start:    uintptr(start),
			end:      uintptr(end),
			readable: strings.HasPrefix(perms, "r"),
		})
	}
	return regions
}

func (s *Scanner) readRegion(pid int, r region) ([]byte, error) {
	path := filepath.Join(s.procRoot, strconv.Itoa(pid), "mem")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size := int64(r.end - r.start)
	if size > maxRegionRead {
		size = maxRegionRead
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, int64(r.start))
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func regionRange(r region) string {
	return strconv.FormatUint(uint64(r.start), 16) + "-" + strconv.FormatUint(uint64(r.end), 16)
}

// ScanPatterns extracts text from every readable region of pid and
// applies Patterns to it, returning one MemoryMatch per match. A
// region that fails to read (permission denied, region gone) is
// skipped; the pass always finishes for the remaining regions.
func (s *Scanner) ScanPatterns(pid int) []model.MemoryMatch {
	var matches []model.MemoryMatch
	now := time.Now()

	for _, r := range s.regions(pid) {
		if !r.readable {
			continue
		}
		data, err := s.readRegion(pid, r)
		if err != nil {
			continue
		}
		text := strings.ToValidUTF8(string(data), "�")
		rangeStr := regionRange(r)
		for _, pattern := range Patterns {
			for _, m := range pattern.FindAllString(text, -1) {
				matches = append(matches, model.MemoryMatch{
					PID:         pid,
					Time:        now,
					RegionRange: rangeStr,
					Match:       m,
				})
			}
		}
	}
	return matches
}

// SearchLiteral walks pid's regions identically to ScanPatterns but
// stops at the first occurrence of needle, returning the region range
// and byte offset within that region. Used by L3 to test a suspect's
// memory for a fetched block header string.
func (s *Scanner) SearchLiteral(pid int, needle string) (rangeStr string, offset int, found bool) {
	if needle == "" {
		return "", 0, false
	}
	for _, r := range s.regions(pid) {
		if !r.readable {
			continue
		}
		data, err := s.readRegion(pid, r)
		if err != nil {
			continue
		}
		if idx := strings.Index(string(data), needle); idx >= 0 {
			return regionRange(r), idx, true
		}
	}
	return "", 0, false
}
