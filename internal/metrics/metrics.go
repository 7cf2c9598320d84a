// Package metrics implements the rate deriver (C2) and metrics
// collector (C4): turning raw procfs counters into the per-tick
// metric set the pressure analyzer consumes.
package metrics

import (
	"time"

	"github.com/baikal/sentinel/internal/procfs"
)

// rateTracker derives a per-second rate from a monotonically
// increasing counter, given the wall-clock time between two reads.
// The first call after construction has no prior sample and returns
// ok=false — this is the collector's warmup. Later calls always
// measure against the most recent earlier call.
type rateTracker struct {
	prevValue int64
	prevTime  float64
	hasPrev   bool
}

func (t *rateTracker) rate(value int64, now float64) (float64, bool) {
	if !t.hasPrev {
		t.prevValue, t.prevTime, t.hasPrev = value, now, true
		return 0, false
	}
	delta := now - t.prevTime
	if delta <= 0 {
		delta = 1e-6
	}
	rate := float64(value-t.prevValue) / delta
	t.prevValue, t.prevTime = value, now
	return rate, true
}

// VmstatRates derives per-second rates for the four vmstat counters
// the analyzer watches.
type VmstatRates struct {
	pgfault, pgmajfault, pswpin, pswpout rateTracker
}

// Rates reads /proc/vmstat and returns the derived per-second rates
// for any counter present in both this read and the previous one.
// Keys: "pgfault_per_sec", "pgmajfault_per_sec", "pswpin_per_sec",
// "pswpout_per_sec".
func (v *VmstatRates) Rates(r *procfs.Reader, now float64) map[string]float64 {
	vmstat := r.Vmstat()
	out := make(map[string]float64)

	if val, ok := vmstat["pgfault"]; ok {
		if rate, ok := v.pgfault.rate(val, now); ok {
			out["pgfault_per_sec"] = rate
		}
	}
	if val, ok := vmstat["pgmajfault"]; ok {
		if rate, ok := v.pgmajfault.rate(val, now); ok {
			out["pgmajfault_per_sec"] = rate
		}
	}
	if val, ok := vmstat["pswpin"]; ok {
		if rate, ok := v.pswpin.rate(val, now); ok {
			out["pswpin_per_sec"] = rate
		}
	}
	if val, ok := vmstat["pswpout"]; ok {
		if rate, ok := v.pswpout.rate(val, now); ok {
			out["pswpout_per_sec"] = rate
		}
	}
	return out
}

// CPUUtilCalculator derives system-wide CPU utilization in [0,1] from
// successive /proc/stat reads.
type CPUUtilCalculator struct {
	prevTotal, prevIdleAll int64
	hasPrev                bool
}

// Utilization returns ok=false on the first call (warmup) or when the
// total delta is non-positive (clock skew, counter reset).
func (c *CPUUtilCalculator) Utilization(r *procfs.Reader) (float64, bool) {
	times, ok := r.Stat()
	if !ok {
		return 0, false
	}
	if !c.hasPrev {
		c.prevTotal, c.prevIdleAll, c.hasPrev = times.Total, times.IdleAll, true
		return 0, false
	}
	deltaTotal := times.Total - c.prevTotal
	deltaIdle := times.IdleAll - c.prevIdleAll
	c.prevTotal, c.prevIdleAll = times.Total, times.IdleAll
	if deltaTotal <= 0 {
		return 0, false
	}
	util := 1.0 - float64(deltaIdle)/float64(deltaTotal)
	if util < 0 {
		util = 0
	}
	if util > 1 {
		util = 1
	}
	return util, true
}

// Collector produces the full per-tick metric set (C4), owning all
// baseline state needed by the rate deriver across ticks. A fresh
// Collector always starts with a warmup tick whose derived-rate
// metrics are absent.
type Collector struct {
	reader          *procfs.Reader
	vmstatRates     VmstatRates
	cpuUtil         CPUUtilCalculator
	prevMinorFaults int64
	prevMajorFaults int64
	hasPrevFaults   bool
	warm            bool
}

// NewCollector builds a Collector reading procfs at procRoot and
// performs the warmup tick so the first call to CollectAll already
// has baseline state recorded.
func NewCollector(procRoot string) *Collector {
	c := &Collector{reader: procfs.NewReader(procRoot)}
	c.warmup()
	return c
}

func (c *Collector) warmup() {
	c.MemoryUsage()
	c.CacheHitRatio()
	c.vmstatRates.Rates(c.reader, nowSeconds())
	c.cpuUtil.Utilization(c.reader)
	c.warm = true
}

// MemoryUsage returns the fraction of total memory in use, in [0,1].
func (c *Collector) MemoryUsage() float64 {
	mem := c.reader.Meminfo()
	total := mem["MemTotal"]
	available := mem["MemAvailable"]
	if total <= 0 {
		return 0
	}
	usage := 1.0 - float64(available)/float64(total)
	if usage < 0 {
		usage = 0
	}
	if usage > 1 {
		usage = 1
	}
	return usage
}

// CacheHitRatio estimates the page-cache hit ratio from the ratio of
// major to minor fault deltas since the previous call. This is a
// rough proxy, not a true cache hit rate — there is no procfs counter
// for that — and callers should treat it as diagnostic only. Reports
// ok=false on the first call or when no minor faults occurred in the
// interval (division would be meaningless).
func (c *Collector) CacheHitRatio() (float64, bool) {
	vmstat := c.reader.Vmstat()
	minor := vmstat["pgfault"]
	major := vmstat["pgmajfault"]

	if !c.hasPrevFaults {
		c.prevMinorFaults, c.prevMajorFaults, c.hasPrevFaults = minor, major, true
		return 0, false
	}
	deltaMinor := minor - c.prevMinorFaults
	deltaMajor := major - c.prevMajorFaults
	c.prevMinorFaults, c.prevMajorFaults = minor, major

	if deltaMinor <= 0 {
		return 0, false
	}
	missRatio := float64(deltaMajor) / maxFloat(1.0, float64(deltaMinor))
	if missRatio < 0 {
		missRatio = 0
	}
	if missRatio > 1 {
		missRatio = 1
	}
	return 1.0 - missRatio, true
}

// MemoryPressure returns the memory PSI "some"/"full" avg10 values.
func (c *Collector) MemoryPressure() (someAvg10, fullAvg10 float64) {
	some, full := c.reader.PressureMemory()
	return some.Avg10, full.Avg10
}

// CPUPressure returns the CPU PSI "some" avg10 value.
func (c *Collector) CPUPressure() float64 {
	some, _ := c.reader.PressureCPU()
	return some.Avg10
}

// CPUUtilization returns system-wide CPU utilization in [0,1].
// Reports ok=false on the warmup tick.
func (c *Collector) CPUUtilization() (float64, bool) {
	return c.cpuUtil.Utilization(c.reader)
}

// CollectAll gathers the complete metric set for one tick, keyed by
// the same names the rule-based analyzer looks up by category. Rate
// and ratio metrics that are unavailable this tick (warmup, or no
// interval activity) are simply absent from the map rather than
// zero-filled, so the analyzer can distinguish "no pressure" from "no
// data yet".
func (c *Collector) CollectAll() map[string]float64 {
	metrics := make(map[string]float64)

	metrics["memory_usage"] = c.MemoryUsage()

	if ratio, ok := c.CacheHitRatio(); ok {
		metrics["cache_hit_ratio"] = ratio
	}

	someMem, fullMem := c.MemoryPressure()
	metrics["some_avg10"] = someMem
	metrics["full_avg10"] = fullMem

	for k, v := range c.vmstatRates.Rates(c.reader, nowSeconds()) {
		metrics[k] = v
	}

	metrics["cpu_some_avg10"] = c.CPUPressure()

	if util, ok := c.CPUUtilization(); ok {
		metrics["cpu_utilization"] = util
	}

	return metrics
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
