// Package scorer implements the per-process behavioral scorer (C7):
// fusing four independent dimension scorers into one SUSPICIOUS/NORMAL
// verdict with an accompanying confidence and evidence trail.
package scorer

import (
	"math"
	"regexp"
	"strings"

	"github.com/baikal/sentinel/internal/model"
)

const (
	weightCPU        = 0.35
	weightNetwork    = 0.30
	weightBehavioral = 0.25
	weightMemory     = 0.10

	suspiciousThreshold = 0.5
)

var minerKeywords = []string{
	"miner", "xmrig", "ccminer", "ethminer", "cpuminer",
	"stratum", "pool", "mine", "rig", "crypto", "coin",
}

var cpuMinerKeywords = []string{"miner", "xmrig", "ccminer", "ethminer", "cpuminer"}

var knownPoolPorts = map[int]bool{
	3333: true, 4444: true, 5555: true, 7777: true,
	8888: true, 9999: true, 14444: true, 3032: true,
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`--pool=`),
	regexp.MustCompile(`--url=`),
	regexp.MustCompile(`--user=`),
	regexp.MustCompile(`--pass=`),
	regexp.MustCompile(`stratum\+tcp://`),
	regexp.MustCompile(`stratum\+ssl://`),
}

// CPUHistory is the bounded CPU-percent history one PID accumulates
// across L2 sweeps. Owned by the caller (the escalation state
// machine keeps one per PID it has scored; entries are never removed).
type CPUHistory struct {
	samples   []float64
	maxSize   int
	startTime float64
}

// NewCPUHistory starts an empty history bounded to the last 10
// samples. startTime is stored as given; no scorer reads it.
func NewCPUHistory(startTime float64) *CPUHistory {
	return &CPUHistory{maxSize: 10, startTime: startTime}
}

// Add records one instantaneous CPU-percent sample.
func (h *CPUHistory) Add(cpuPercent float64) {
	h.samples = append(h.samples, cpuPercent)
	if len(h.samples) > h.maxSize {
		h.samples = h.samples[len(h.samples)-h.maxSize:]
	}
}

func (h *CPUHistory) mean() float64 {
	if len(h.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range h.samples {
		sum += v
	}
	return sum / float64(len(h.samples))
}

func (h *CPUHistory) stddev() float64 {
	if len(h.samples) < 2 {
		return 0
	}
	mean := h.mean()
	var variance float64
	for _, v := range h.samples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(h.samples))
	return math.Sqrt(variance)
}

// dimension is the common shape every scorer returns: a raw score in
// [0,1], a derived confidence, and the evidence strings collected
// along the way.
type dimension struct {
	score      float64
	confidence float64
	evidence   []string
}

func cap1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// ScoreCPU evaluates the CPU dimension given this PID's history (after
// the caller has already called Add for the current sample),
// process name, and process uptime in seconds.
func ScoreCPU(history *CPUHistory, processName string, uptimeSeconds float64) dimension {
	var d dimension
	avg := history.mean()
	std := history.stddev()

	if avg > 70 {
		d.score += 0.3
		d.evidence = append(d.evidence, "high average CPU usage")
	}
	if std < 5 && avg > 30 {
		d.score += 0.2
		d.evidence = append(d.evidence, "stable high CPU usage pattern")
	}
	if uptimeSeconds > 3600 {
		d.score += 0.1
		d.evidence = append(d.evidence, "long-running process")
	}
	nameLower := strings.ToLower(processName)
	for _, kw := range cpuMinerKeywords {
		if strings.Contains(nameLower, kw) {
			d.score += 0.4
			d.evidence = append(d.evidence, "process name contains mining keyword")
			break
		}
	}

	d.score = cap1(d.score)
	d.confidence = d.score * 0.8
	return d
}

// ScoreMemory evaluates the memory dimension given the process's RSS
// in bytes.
func ScoreMemory(rssBytes int64) dimension {
	var d dimension
	const threshold = 500 * 1024 * 1024
	if rssBytes > threshold {
		d.score = 0.2
		d.evidence = append(d.evidence, "high RSS usage")
	}
	d.confidence = d.score * 0.5
	return d
}

// Connection is the minimal shape ScoreNetwork needs from a process's
// open sockets.
type Connection struct {
	RemotePort int
}

// ScoreNetwork evaluates the network dimension given the process's
// open connections.
func ScoreNetwork(connections []Connection) dimension {
	var d dimension
	matched := 0
	for _, c := range connections {
		if knownPoolPorts[c.RemotePort] {
			matched++
			d.score += 0.6
		}
	}
	if matched > 0 {
		d.evidence = append(d.evidence, "connected to a known mining-pool port")
	}
	if len(connections) > 5 {
		d.score += 0.2
		d.evidence = append(d.evidence, "many concurrent network connections")
	}
	d.score = cap1(d.score)
	d.confidence = d.score * 0.9
	return d
}

// ScoreBehavioral evaluates the behavioral dimension given the
// process name, lowercased command-line string, user identity, and
// whether the process has a GUI.
func ScoreBehavioral(processName, cmdlineLower string, isPrivilegedUser, hasGUI bool) dimension {
	var d dimension
	nameLower := strings.ToLower(processName)

	for _, kw := range minerKeywords {
		if strings.Contains(nameLower, kw) {
			d.score += 0.5
			d.evidence = append(d.evidence, "process name contains mining keyword")
			break
		}
	}

	if cmdlineLower != "" {
		var matched []string
		for _, kw := range minerKeywords {
			if strings.Contains(cmdlineLower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			d.score += 0.4
			d.evidence = append(d.evidence, "command line contains mining keywords: "+strings.Join(matched, ", "))
		}

		var patternHit bool
		for _, p := range suspiciousPatterns {
			if p.MatchString(cmdlineLower) {
				patternHit = true
				break
			}
		}
		if patternHit {
			d.score += 0.3
			d.evidence = append(d.evidence, "command line matches suspicious mining-flag pattern")
		}
	}

	if isPrivilegedUser {
		d.score += 0.2
		d.evidence = append(d.evidence, "running with elevated privileges")
	}
	if !hasGUI {
		d.score += 0.1
		d.evidence = append(d.evidence, "no GUI surface")
	}

	d.score = cap1(d.score)
	d.confidence = d.score * 0.85
	return d
}

// Input bundles everything ScoreProcess needs for one PID's tick.
type Input struct {
	PID              int
	ProcessName      string
	CmdlineLower     string
	IsPrivilegedUser bool
	HasGUI           bool
	RSSBytes         int64
	Connections      []Connection
	History          *CPUHistory
	CurrentCPUPct    float64
	UptimeSeconds    float64
}

// ScoreProcess fuses the four dimension scorers per C7's fixed
// weights and returns the process evidence record.
func ScoreProcess(in Input) model.ProcessEvidence {
	in.History.Add(in.CurrentCPUPct)

	cpu := ScoreCPU(in.History, in.ProcessName, in.UptimeSeconds)
	mem := ScoreMemory(in.RSSBytes)
	net := ScoreNetwork(in.Connections)
	behav := ScoreBehavioral(in.ProcessName, in.CmdlineLower, in.IsPrivilegedUser, in.HasGUI)

	total := weightCPU*cpu.score + weightNetwork*net.score +
		weightBehavioral*behav.score + weightMemory*mem.score
	confidence := weightCPU*cpu.confidence + weightNetwork*net.confidence +
		weightBehavioral*behav.confidence + weightMemory*mem.confidence

	status := model.ProcessNormal
	if total >= suspiciousThreshold {
		status = model.ProcessSuspicious
	}

	var evidence []string
	evidence = append(evidence, cpu.evidence...)
	evidence = append(evidence, mem.evidence...)
	evidence = append(evidence, net.evidence...)
	evidence = append(evidence, behav.evidence...)

	return model.ProcessEvidence{
		PID:             in.PID,
		ProcessName:     in.ProcessName,
		CPUScore:        cpu.score,
		NetworkScore:    net.score,
		BehavioralScore: behav.score,
		MemoryScore:     mem.score,
		TotalScore:      total,
		Confidence:      confidence,
		Status:          status,
		Evidence:        evidence,
	}
}
