// Package analyzer implements the declarative, rule-based pressure
// analyzer (C5): scoring one tick's metric set against a configurable
// RuleSet and deriving the host's overall status.
package analyzer

import "github.com/baikal/sentinel/internal/model"

// RuleSet is the YAML-decodable configuration for every analyzer
// category plus the overall decision thresholds. Each category's rule
// carries sensible defaults (matching the reference daemon's
// defaults) so a config file may omit any block it doesn't want to
// customize — see Defaults.
type RuleSet struct {
	MemoryUsage       ThresholdScoreRule `yaml:"memory_usage"`
	CachePerformance  InverseScoreRule   `yaml:"cache_performance"`
	PageFaults        ThresholdScoreRule `yaml:"page_faults"`
	MemoryPressure    PressureRule       `yaml:"memory_pressure"`
	SwapActivity      ThresholdScoreRule `yaml:"swap_activity"`
	CPUPressure       SingleThresholdRule `yaml:"cpu_pressure"`
	CPUUtilization    ThresholdScoreRule `yaml:"cpu_utilization"`
	Decision          DecisionRule       `yaml:"decision"`
}

// ThresholdScoreRule scores a metric against a warning and a critical
// threshold, critical superseding warning.
type ThresholdScoreRule struct {
	Enabled         bool    `yaml:"enabled"`
	WarningThreshold float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
	WarningScore    int     `yaml:"warning_score"`
	CriticalScore   int     `yaml:"critical_score"`
}

// InverseScoreRule is like ThresholdScoreRule but triggers when the
// metric falls BELOW its thresholds (used for cache_performance,
// where a falling hit ratio is the bad direction).
type InverseScoreRule struct {
	Enabled         bool    `yaml:"enabled"`
	WarningThreshold float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
	WarningScore    int     `yaml:"warning_score"`
	CriticalScore   int     `yaml:"critical_score"`
}

// PressureRule sums independent contributions from the "some" and
// "full" PSI lines rather than picking the higher of the two.
type PressureRule struct {
	Enabled               bool    `yaml:"enabled"`
	SomeWarningThreshold float64 `yaml:"some_warning_threshold"`
	FullWarningThreshold float64 `yaml:"full_warning_threshold"`
	SomeWeight            int     `yaml:"some_weight"`
	FullWeight            int     `yaml:"full_weight"`
}

// SingleThresholdRule scores a metric against one threshold only (no
// separate critical tier) — used for CPU PSI.
type SingleThresholdRule struct {
	Enabled              bool    `yaml:"enabled"`
	SomeWarningThreshold float64 `yaml:"some_warning_threshold"`
	SomeWeight           int     `yaml:"some_weight"`
}

// DecisionRule holds the overall status thresholds.
type DecisionRule struct {
	WarningThreshold         int `yaml:"warning_threshold"`
	CriticalThreshold        int `yaml:"critical_threshold"`
	MinCategoriesForCritical int `yaml:"min_categories_for_critical"`
}

// Defaults returns the RuleSet used when a config omits analyzer
// blocks entirely, matching the reference daemon's built-in defaults.
func Defaults() RuleSet {
	return RuleSet{
		MemoryUsage: ThresholdScoreRule{
			Enabled: true, WarningThreshold: 0.90, CriticalThreshold: 0.95,
			WarningScore: 15, CriticalScore: 25,
		},
		CachePerformance: InverseScoreRule{
			Enabled: true, WarningThreshold: 0.90, CriticalThreshold: 0.80,
			WarningScore: 15, CriticalScore: 30,
		},
		PageFaults: ThresholdScoreRule{
			Enabled: true, WarningThreshold: 20, CriticalThreshold: 100,
			WarningScore: 10, CriticalScore: 20,
		},
		MemoryPressure: PressureRule{
			Enabled: true, SomeWarningThreshold: 5.0, FullWarningThreshold: 1.0,
			SomeWeight: 10, FullWeight: 15,
		},
		SwapActivity: ThresholdScoreRule{
			Enabled: true, WarningThreshold: 300, CriticalThreshold: 1000,
			WarningScore: 5, CriticalScore: 10,
		},
		CPUPressure: SingleThresholdRule{
			Enabled: true, SomeWarningThreshold: 2.0, SomeWeight: 15,
		},
		CPUUtilization: ThresholdScoreRule{
			Enabled: true, WarningThreshold: 0.80, CriticalThreshold: 0.95,
			WarningScore: 15, CriticalScore: 25,
		},
		Decision: DecisionRule{
			WarningThreshold: 40, CriticalThreshold: 60, MinCategoriesForCritical: 2,
		},
	}
}

// Analyzer scores a tick's metric set against a RuleSet.
type Analyzer struct {
	rules RuleSet
}

// New builds an Analyzer bound to the given rule set.
func New(rules RuleSet) *Analyzer {
	return &Analyzer{rules: rules}
}

func evalThreshold(rule ThresholdScoreRule, value float64) int {
	if !rule.Enabled {
		return 0
	}
	if value >= rule.CriticalThreshold {
		return rule.CriticalScore
	}
	if value >= rule.WarningThreshold {
		return rule.WarningScore
	}
	return 0
}

func evalInverse(rule InverseScoreRule, value float64) int {
	if !rule.Enabled {
		return 0
	}
	if value < rule.CriticalThreshold {
		return rule.CriticalScore
	}
	if value < rule.WarningThreshold {
		return rule.WarningScore
	}
	return 0
}

func evalPressure(rule PressureRule, some, full float64) int {
	if !rule.Enabled {
		return 0
	}
	score := 0
	if some >= rule.SomeWarningThreshold {
		score += rule.SomeWeight
	}
	if full >= rule.FullWarningThreshold {
		score += rule.FullWeight
	}
	return score
}

func evalSingle(rule SingleThresholdRule, value float64) int {
	if !rule.Enabled {
		return 0
	}
	if value >= rule.SomeWarningThreshold {
		return rule.SomeWeight
	}
	return 0
}

// Analyze scores the given tick's metrics and returns the host
// status. A category contributes only when its source metric(s) are
// present in the map — a metric absent this tick (e.g. a warmup-only
// rate) is never scored as zero pressure, it is simply skipped.
func (a *Analyzer) Analyze(metrics map[string]float64) model.HostStatus {
	var categories []model.CategoryScore
	total := 0

	add := func(name string, score int) {
		if score > 0 {
			categories = append(categories, model.CategoryScore{Category: name, Score: score})
			total += score
		}
	}

	if v, ok := metrics["memory_usage"]; ok {
		add("memory_usage", evalThreshold(a.rules.MemoryUsage, v))
	}
	if v, ok := metrics["cache_hit_ratio"]; ok {
		add("cache_performance", evalInverse(a.rules.CachePerformance, v))
	}
	if v, ok := metrics["pgmajfault_per_sec"]; ok {
		add("page_faults", evalThreshold(a.rules.PageFaults, v))
	}
	some, someOK := metrics["some_avg10"]
	full, fullOK := metrics["full_avg10"]
	if someOK && fullOK {
		add("memory_pressure", evalPressure(a.rules.MemoryPressure, some, full))
	}
	swapIn, swapInOK := metrics["pswpin_per_sec"]
	swapOut, swapOutOK := metrics["pswpout_per_sec"]
	if swapInOK || swapOutOK {
		add("swap_activity", evalThreshold(a.rules.SwapActivity, swapIn+swapOut))
	}
	if v, ok := metrics["cpu_some_avg10"]; ok {
		add("cpu_pressure", evalSingle(a.rules.CPUPressure, v))
	}
	if v, ok := metrics["cpu_utilization"]; ok {
		add("cpu_utilization", evalThreshold(a.rules.CPUUtilization, v))
	}

	status := a.determineStatus(total, len(categories))
	return model.HostStatus{
		TotalScore:          total,
		CategoryScores:      categories,
		TriggeredCategories: len(categories),
		Status:              status,
	}
}

func (a *Analyzer) determineStatus(totalScore, triggeredCategories int) string {
	d := a.rules.Decision
	if totalScore >= d.CriticalThreshold && triggeredCategories >= d.MinCategoriesForCritical {
		return model.StatusCritical
	}
	if totalScore >= d.WarningThreshold {
		return model.StatusWarning
	}
	return model.StatusNormal
}
