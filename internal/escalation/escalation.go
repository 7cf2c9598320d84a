// Package escalation implements the escalation state machine (C11):
// sequencing L1 coarse monitoring, L2 per-process scanning, and L3
// live memory/blockchain verification, and consuming every other
// component in the pipeline.
package escalation

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/baikal/sentinel/internal/analyzer"
	"github.com/baikal/sentinel/internal/blockheader"
	"github.com/baikal/sentinel/internal/metrics"
	"github.com/baikal/sentinel/internal/memscan"
	"github.com/baikal/sentinel/internal/model"
	"github.com/baikal/sentinel/internal/observer"
	"github.com/baikal/sentinel/internal/output"
	"github.com/baikal/sentinel/internal/procfs"
	"github.com/baikal/sentinel/internal/procscan"
	"github.com/baikal/sentinel/internal/scorer"
	"github.com/baikal/sentinel/internal/whitelist"
	"github.com/baikal/sentinel/internal/window"
)

// rateMetricNames are the three rate-like metrics windowed with
// median rather than mean, per spec.md §4.10.
var rateMetricNames = map[string]bool{
	"pgmajfault_per_sec": true,
	"pswpin_per_sec":     true,
	"pswpout_per_sec":    true,
}

// Config bundles the tunables the state machine needs beyond the
// components it drives.
type Config struct {
	SamplingInterval time.Duration
	WindowSpan       int // seconds
	L3MaxPolls       int
	L3PollInterval   time.Duration
	WorkerPoolSize   int
}

// Machine drives the L1/L2/L3 escalation loop. Construct with New and
// run with Run(ctx); Run blocks until ctx is cancelled or a SIGINT/
// SIGTERM is received.
type Machine struct {
	cfg Config

	procRoot  *procfs.Reader
	collector *metrics.Collector
	analyzer  *analyzer.Analyzer
	procs     *procscan.Scanner
	memscan   *memscan.Scanner
	whitelist *whitelist.Filter
	headers   *blockheader.Fetcher
	tracker   *observer.PIDTracker
	progress  *output.Progress

	windows map[string]*window.Window
	history map[int]*scorer.CPUHistory

	pendingSuspects []int
	pendingScores   map[int]float64

	mu       sync.RWMutex
	state    model.State
	counters model.EscalationCounters
	suspects int
	lastHost model.HostStatus
	updated  time.Time
}

// New builds a Machine. procRoot is normally "/proc"; pass a test
// fixture root to drive the machine against synthetic data.
func New(cfg Config, rules analyzer.RuleSet, wl whitelist.Config, procRoot, headerEndpoint string, progress *output.Progress) *Machine {
	return &Machine{
		cfg:       cfg,
		procRoot:  procfs.NewReader(procRoot),
		collector: metrics.NewCollector(procRoot),
		analyzer:  analyzer.New(rules),
		procs:     procscan.NewScanner(procRoot),
		memscan:   memscan.NewScanner(procRoot),
		whitelist: whitelist.New(wl),
		headers:   blockheader.New(headerEndpoint),
		tracker:   observer.NewPIDTracker(),
		progress:  progress,
		windows:   make(map[string]*window.Window),
		history:   make(map[int]*scorer.CPUHistory),
		state:     model.StateL1Monitoring,
	}
}

// Snapshot returns an atomically-read view of the machine's current
// state, for the MCP introspection surface. Never blocks a running
// tick.
func (m *Machine) Snapshot() model.StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.StatusSnapshot{
		State:        m.state,
		Counters:     m.counters,
		SuspectCount: m.suspects,
		LastHost:     m.lastHost,
		UpdatedAt:    m.updated,
	}
}

func (m *Machine) publish(state model.State, host model.HostStatus, suspectCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.lastHost = host
	m.suspects = suspectCount
	m.updated = time.Now()
}

// Run drives the escalation loop until ctx is cancelled or a SIGINT/
// SIGTERM arrives. It always returns cleanly, logging the final
// counters before returning.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.tracker.SnapshotBefore()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			m.progress.Log("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	m.progress.Log("sentinel starting: sampling=%s window=%ds l3_budget=%d polls @ %s",
		m.cfg.SamplingInterval, m.cfg.WindowSpan, m.cfg.L3MaxPolls, m.cfg.L3PollInterval)

	for {
		if ctx.Err() != nil {
			break
		}

		var err error
		switch m.currentState() {
		case model.StateL1Monitoring:
			err = m.runL1(ctx)
		case model.StateL2Scanning:
			err = m.runL2(ctx)
		case model.StateL3Verifying:
			err = m.runL3(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}

	overhead := m.tracker.SnapshotAfter()
	m.mu.RLock()
	counters := m.counters
	m.mu.RUnlock()
	m.progress.Log("shutdown: l1_scans=%d l1_alerts=%d l2_scans=%d l2_suspicious=%d l3_verifications=%d l3_detections=%d confirmed_miners=%d",
		counters.L1Scans, counters.L1Alerts, counters.L2Scans, counters.L2Suspicious,
		counters.L3Verifications, counters.L3Detections, counters.ConfirmedMiners)
	m.progress.Log("self overhead: cpu_user_ms=%d cpu_sys_ms=%d rss_bytes=%d",
		overhead.CPUUserMs, overhead.CPUSystemMs, overhead.MemoryRSSBytes)
	return nil
}

func (m *Machine) currentState() model.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) incr(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// runL1 performs one sampling tick: collect, window, analyze. On a
// warning/critical verdict it transitions to L2; otherwise it sleeps
// for the sampling interval (interruptibly) and remains at L1.
func (m *Machine) runL1(ctx context.Context) error {
	snapshot := m.collector.CollectAll()
	tickTime := nowSeconds()

	for name, value := range snapshot {
		w, ok := m.windows[name]
		if !ok {
			w = window.New(m.cfg.WindowSpan)
			m.windows[name] = w
		}
		w.Add(value, tickTime)
	}

	windowed := make(map[string]float64, len(m.windows))
	for name, w := range m.windows {
		if w.Count() == 0 {
			continue
		}
		if rateMetricNames[name] {
			windowed[name] = w.Median()
		} else {
			windowed[name] = w.Mean()
		}
	}

	host := m.analyzer.Analyze(windowed)
	m.incr(&m.counters.L1Scans)
	m.progress.Debug("L1 tick: total=%d status=%s triggered=%d", host.TotalScore, host.Status, host.TriggeredCategories)

	next := model.StateL1Monitoring
	if host.Status == model.StatusWarning || host.Status == model.StatusCritical {
		m.incr(&m.counters.L1Alerts)
		next = model.StateL2Scanning
		m.progress.Log("L1 alert: total=%d status=%s -> L2", host.TotalScore, host.Status)
	}
	m.publish(next, host, m.currentSuspectCount())

	if next == model.StateL2Scanning {
		return nil
	}
	return interruptibleSleep(ctx, m.cfg.SamplingInterval)
}

func (m *Machine) currentSuspectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspects
}

// runL2 snapshots all live PIDs, drops whitelisted ones, scores the
// rest, and accumulates SUSPICIOUS PIDs. Scoring is fanned out across
// a bounded worker pool.
func (m *Machine) runL2(ctx context.Context) error {
	m.incr(&m.counters.L2Scans)
	pids := m.procs.PIDs()
	systemUptime, _ := m.procRoot.Uptime()

	tickTime := nowSeconds()
	candidates := make([]int, 0, len(pids))
	candidateCPU := make(map[int]float64, len(pids))
	for _, pid := range pids {
		if m.tracker.IsOwnPID(pid) {
			continue
		}
		name, ok := m.procs.Name(pid)
		if !ok {
			continue
		}
		cmdlineLower, _ := m.procs.CmdlineString(pid)
		user, _ := m.procs.User(pid)
		uptime, hasUptime := m.procs.UptimeSeconds(pid, systemUptime)
		cpuPct, hasCPUPct := m.procs.CPUPercent(pid, tickTime)

		if m.whitelist.IsWhitelisted(whitelist.Candidate{
			Name:          name,
			CmdlineLower:  cmdlineLower,
			User:          user,
			IsSystemUser:  user == "0",
			CPUPercent:    cpuPct,
			HasCPUPercent: hasCPUPct,
			UptimeSeconds: uptime,
			HasUptime:     hasUptime,
		}) {
			continue
		}
		candidates = append(candidates, pid)
		candidateCPU[pid] = cpuPct
	}

	poolSize := m.cfg.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	var (
		mu       sync.Mutex
		evidence []model.ProcessEvidence
		wg       sync.WaitGroup
		sem      = make(chan struct{}, poolSize)
	)

	for _, pid := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(pid int) {
			defer wg.Done()
			defer func() { <-sem }()

			ev, ok := m.scorePID(pid, systemUptime, candidateCPU[pid])
			if !ok {
				return
			}
			mu.Lock()
			evidence = append(evidence, ev)
			mu.Unlock()
		}(pid)
	}
	wg.Wait()

	var suspectPIDs []int
	for _, ev := range evidence {
		if ev.Status == model.ProcessSuspicious {
			suspectPIDs = append(suspectPIDs, ev.PID)
			m.incr(&m.counters.L2Suspicious)
			m.progress.Log("L2 suspicious: pid=%d name=%s total=%.2f", ev.PID, ev.ProcessName, ev.TotalScore)
		}
	}

	m.mu.Lock()
	host := m.lastHost
	m.mu.Unlock()

	if len(suspectPIDs) == 0 {
		m.publish(model.StateL1Monitoring, host, 0)
		return nil
	}

	scores := make(map[int]float64, len(evidence))
	for _, ev := range evidence {
		scores[ev.PID] = ev.TotalScore
	}
	m.pendingSuspects = suspectPIDs
	m.pendingScores = scores
	m.publish(model.StateL3Verifying, host, len(suspectPIDs))
	m.progress.Log("L2 sweep: %d suspicious of %d scanned -> L3", len(suspectPIDs), len(candidates))
	return nil
}

func (m *Machine) scorePID(pid int, systemUptime, cpuPct float64) (model.ProcessEvidence, bool) {
	name, ok := m.procs.Name(pid)
	if !ok {
		return model.ProcessEvidence{}, false
	}
	cmdlineLower, _ := m.procs.CmdlineString(pid)
	user, _ := m.procs.User(pid)
	rss, _ := m.procs.RSSBytes(pid)
	uptime, _ := m.procs.UptimeSeconds(pid, systemUptime)
	conns, _ := m.procs.Connections(pid)

	scorerConns := make([]scorer.Connection, 0, len(conns))
	for _, c := range conns {
		scorerConns = append(scorerConns, scorer.Connection{RemotePort: c.RemotePort})
	}

	m.mu.Lock()
	hist, ok := m.history[pid]
	if !ok {
		hist = scorer.NewCPUHistory(uptime)
		m.history[pid] = hist
	}
	m.mu.Unlock()

	ev := scorer.ScoreProcess(scorer.Input{
		PID:              pid,
		ProcessName:      name,
		CmdlineLower:     cmdlineLower,
		IsPrivilegedUser: user == "0",
		HasGUI:           false,
		RSSBytes:         rss,
		Connections:      scorerConns,
		History:          hist,
		CurrentCPUPct:    cpuPct,
		UptimeSeconds:    uptime,
	})
	return ev, true
}

// runL3 runs the memory-forensics verification episode against the
// suspect set accumulated by L2: up to L3MaxPolls polls, each fetching
// a fresh header and searching every still-unresolved suspect's
// memory for either byte-order form as a literal substring.
func (m *Machine) runL3(ctx context.Context) error {
	suspects := m.pendingSuspects
	m.pendingSuspects = nil

	episodeID := uuid.New().String()
	scratchPath := fmt.Sprintf("/tmp/sentinel-l3-%s.txt", episodeID)
	defer os.Remove(scratchPath)

	unresolved := make(map[int]bool, len(suspects))
	for _, pid := range suspects {
		unresolved[pid] = true
	}

	confirmed := false
	for poll := 0; poll < m.cfg.L3MaxPolls && len(unresolved) > 0; poll++ {
		if ctx.Err() != nil {
			break
		}
		m.incr(&m.counters.L3Verifications)

		probe, err := m.fetchHeader(ctx)
		if err != nil {
			m.progress.Debug("L3 poll %d: header fetch failed: %v", poll, err)
			if sleepErr := interruptibleSleep(ctx, m.cfg.L3PollInterval); sleepErr != nil {
				break
			}
			continue
		}

		if err := m.writeScratch(scratchPath, suspects); err != nil {
			m.progress.Debug("L3 poll %d: scratch write failed: %v", poll, err)
			if sleepErr := interruptibleSleep(ctx, m.cfg.L3PollInterval); sleepErr != nil {
				break
			}
			continue
		}

		for pid := range unresolved {
			line, found := m.searchSuspect(pid, probe)
			if !found {
				continue
			}
			m.incr(&m.counters.L3Detections)
			m.incr(&m.counters.ConfirmedMiners)
			name, _ := m.procs.Name(pid)
			score := m.pendingScores[pid]

			alert := model.Alert{
				PID:           pid,
				ProcessName:   name,
				L2Score:       score,
				MatchedHeader: probe.PreviousBlockHash,
				MatchedLine:   line,
				Time:          time.Now(),
			}
			_ = output.WriteAlert(&alert, "-")
			m.progress.Log("CONFIRMED: pid=%d name=%s matched=%s", pid, name, probe.PreviousBlockHash)
			confirmed = true
			break
		}
		if confirmed {
			break
		}

		if sleepErr := interruptibleSleep(ctx, m.cfg.L3PollInterval); sleepErr != nil {
			break
		}
	}

	m.mu.Lock()
	host := m.lastHost
	m.mu.Unlock()
	m.publish(model.StateL1Monitoring, host, 0)
	if !confirmed {
		m.progress.Log("L3 episode %s exhausted budget: no confirmation", episodeID)
	}
	return nil
}

func (m *Machine) fetchHeader(ctx context.Context) (model.BlockHeaderProbe, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.headers.Fetch(fetchCtx)
}

// writeScratch extracts memory strings from every suspect into the
// ephemeral scratch file, concatenated. The file is not read back:
// searchSuspect searches each suspect's live memory instead.
func (m *Machine) writeScratch(path string, suspects []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, pid := range suspects {
		matches := m.memscan.ScanPatterns(pid)
		for _, match := range matches {
			fmt.Fprintf(f, "%d\t%s\t%s\n", pid, match.RegionRange, match.Match)
		}
	}
	return nil
}

// searchSuspect searches the given PID's live memory directly for
// either byte-order form of the fetched header (not the scratch
// file, since chasing per-PID offsets back out of the concatenated
// sink is unnecessary when memscan can re-target the PID directly).
func (m *Machine) searchSuspect(pid int, probe model.BlockHeaderProbe) (string, bool) {
	if _, _, found := m.memscan.SearchLiteral(pid, probe.PreviousBlockHash); found {
		return fmt.Sprintf("pid=%d matched canonical previous_block_hash", pid), true
	}
	if _, _, found := m.memscan.SearchLiteral(pid, probe.PreviousBlockHashModify); found {
		return fmt.Sprintf("pid=%d matched group-reversed previous_block_hash", pid), true
	}
	return "", false
}

// nowSeconds returns the current wall-clock time as fractional Unix
// seconds, the unit every window and rate deriver in this package
// operates on.
func nowSeconds() float64 {
	now := time.Now()
	return float64(now.Unix()) + float64(now.Nanosecond())/1e9
}

// interruptibleSleep blocks for d or until ctx is cancelled, whichever
// comes first, returning ctx.Err() if cancellation won.
func interruptibleSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
