// Package whitelist implements the whitelist filter (C6): exempting
// known-good processes from L2 scrutiny by name, keyword, or policy
// option.
package whitelist

import "strings"

// Options are the boolean/parametrized exemption policies layered on
// top of the lexical sets.
type Options struct {
	SkipSystemProcesses    bool    `yaml:"skip_system_processes"`
	SkipLowCPUProcesses    bool    `yaml:"skip_low_cpu_processes"`
	CPUThreshold           float64 `yaml:"cpu_threshold"`
	SkipShortLivedProcesses bool   `yaml:"skip_short_lived_processes"`
	MinUptimeSeconds       float64 `yaml:"min_uptime_seconds"`
}

// Config is the YAML-decodable whitelist file shape.
type Config struct {
	TrustedProcesses []string `yaml:"trusted_processes"`
	ExactMatches     []string `yaml:"exact_matches"`
	UserWhitelist    []string `yaml:"user_whitelist"`
	Options          Options  `yaml:"options"`
}

// Candidate is the subset of a process's attributes the filter needs.
// Attribute access on the live process is fallible; a field left at
// its zero value with the companion bool false means "unknown",
// which this filter treats as non-match for that predicate only.
type Candidate struct {
	Name          string
	CmdlineLower  string
	User          string
	IsSystemUser  bool
	CPUPercent    float64
	HasCPUPercent bool
	UptimeSeconds float64
	HasUptime     bool
}

// Filter holds the compiled lexical sets and options from a Config.
type Filter struct {
	exactMatches     map[string]bool
	trustedKeywords  []string
	userKeywords     []string
	options          Options
}

// New compiles a Config into a Filter. Keyword comparisons are
// case-insensitive, so keywords are lowercased once here.
func New(cfg Config) *Filter {
	f := &Filter{
		exactMatches: make(map[string]bool, len(cfg.ExactMatches)),
		options:      cfg.Options,
	}
	for _, name := range cfg.ExactMatches {
		f.exactMatches[name] = true
	}
	for _, kw := range cfg.TrustedProcesses {
		f.trustedKeywords = append(f.trustedKeywords, strings.ToLower(kw))
	}
	for _, kw := range cfg.UserWhitelist {
		f.userKeywords = append(f.userKeywords, strings.ToLower(kw))
	}
	return f
}

// IsWhitelisted reports whether c should be exempted from L2
// scrutiny: an exact name match, a trusted or user keyword found in
// the name or command line, or an enabled option's predicate holding.
func (f *Filter) IsWhitelisted(c Candidate) bool {
	if f.exactMatches[c.Name] {
		return true
	}

	nameLower := strings.ToLower(c.Name)
	if containsAny(nameLower, f.trustedKeywords) || containsAny(c.CmdlineLower, f.trustedKeywords) {
		return true
	}
	if containsAny(nameLower, f.userKeywords) || containsAny(c.CmdlineLower, f.userKeywords) {
		return true
	}

	return f.matchesOptions(c)
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func (f *Filter) matchesOptions(c Candidate) bool {
	opts := f.options

	if opts.SkipSystemProcesses && c.IsSystemUser {
		return true
	}
	if opts.SkipLowCPUProcesses && c.HasCPUPercent && c.CPUPercent < opts.CPUThreshold {
		return true
	}
	if opts.SkipShortLivedProcesses && c.HasUptime && c.UptimeSeconds < opts.MinUptimeSeconds {
		return true
	}
	return false
}
