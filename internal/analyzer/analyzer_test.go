package analyzer

import (
	"testing"

	"github.com/baikal/sentinel/internal/model"
)

func TestAnalyze_NormalWhenNoMetricsTrigger(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"memory_usage": 0.5,
	})
	if status.Status != model.StatusNormal {
		t.Errorf("Status = %v, want NORMAL", status.Status)
	}
	if status.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0", status.TotalScore)
	}
}

func TestAnalyze_MemoryUsageCritical(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"memory_usage": 0.97,
	})
	if status.TotalScore != 25 {
		t.Errorf("TotalScore = %v, want 25", status.TotalScore)
	}
	if status.TriggeredCategories != 1 {
		t.Errorf("TriggeredCategories = %v, want 1", status.TriggeredCategories)
	}
}

func TestAnalyze_CachePerformance_LowerIsWorse(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"cache_hit_ratio": 0.75, // below critical threshold 0.80
	})
	if status.TotalScore != 30 {
		t.Errorf("TotalScore = %v, want 30 (critical cache score)", status.TotalScore)
	}
}

func TestAnalyze_MemoryPressure_SumsSomeAndFull(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"some_avg10": 6.0, // >= 5.0 -> +10
		"full_avg10": 2.0, // >= 1.0 -> +15
	})
	if status.TotalScore != 25 {
		t.Errorf("TotalScore = %v, want 25 (10+15)", status.TotalScore)
	}
}

func TestAnalyze_MemoryPressure_RequiresBothMetricsPresent(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"some_avg10": 6.0, // full_avg10 missing -> category skipped entirely
	})
	if status.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0 when full_avg10 absent", status.TotalScore)
	}
}

func TestAnalyze_SwapActivityDefaultsToZero(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"memory_usage": 0.1,
	})
	// swap metrics absent entirely -> the category is skipped, no score.
	if status.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0", status.TotalScore)
	}
}

func TestAnalyze_CriticalRequiresMinCategories(t *testing.T) {
	rules := Defaults()
	rules.CachePerformance.CriticalScore = 70
	a := New(rules)
	// Single category scoring above critical total-score threshold
	// but triggering only one category must not reach CRITICAL.
	status := a.Analyze(map[string]float64{
		"cache_hit_ratio": 0.5, // critical score 70, above critical total 60
	})
	if status.Status == model.StatusCritical {
		t.Error("single triggered category with score >= 60 should not be CRITICAL")
	}
}

func TestAnalyze_TwoCategoriesBelowCriticalTotalIsWarning(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"memory_usage":    0.97, // +25
		"cache_hit_ratio": 0.5,  // +30
	})
	if status.TotalScore != 55 {
		t.Errorf("TotalScore = %v, want 55", status.TotalScore)
	}
	if status.Status != model.StatusWarning {
		t.Errorf("Status = %v, want WARNING (55 < 60 critical threshold)", status.Status)
	}
}

func TestAnalyze_CriticalStatus(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"memory_usage":       0.97, // +25
		"cache_hit_ratio":    0.5,  // +30
		"pgmajfault_per_sec": 150,  // +20
	})
	if status.TotalScore != 75 {
		t.Errorf("TotalScore = %v, want 75", status.TotalScore)
	}
	if status.Status != model.StatusCritical {
		t.Errorf("Status = %v, want CRITICAL", status.Status)
	}
}

func TestAnalyze_DisabledCategoryNeverScores(t *testing.T) {
	rules := Defaults()
	rules.MemoryUsage.Enabled = false
	a := New(rules)
	status := a.Analyze(map[string]float64{
		"memory_usage": 0.99,
	})
	if status.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0 for disabled category", status.TotalScore)
	}
}

func TestAnalyze_CPUPressureSingleThreshold(t *testing.T) {
	a := New(Defaults())
	status := a.Analyze(map[string]float64{
		"cpu_some_avg10": 3.0, // >= 2.0 -> +15
	})
	if status.TotalScore != 15 {
		t.Errorf("TotalScore = %v, want 15", status.TotalScore)
	}
}
