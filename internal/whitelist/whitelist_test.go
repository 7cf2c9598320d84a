package whitelist

import "testing"

func TestIsWhitelisted_ExactMatch(t *testing.T) {
	f := New(Config{ExactMatches: []string{"sshd"}})
	if !f.IsWhitelisted(Candidate{Name: "sshd"}) {
		t.Error("exact match should be whitelisted")
	}
	if f.IsWhitelisted(Candidate{Name: "xmrig"}) {
		t.Error("non-matching name should not be whitelisted")
	}
}

func TestIsWhitelisted_TrustedKeywordInName(t *testing.T) {
	f := New(Config{TrustedProcesses: []string{"chrome"}})
	if !f.IsWhitelisted(Candidate{Name: "chrome-renderer"}) {
		t.Error("trusted keyword substring in name should be whitelisted")
	}
}

func TestIsWhitelisted_TrustedKeywordInCmdline(t *testing.T) {
	f := New(Config{TrustedProcesses: []string{"java"}})
	c := Candidate{Name: "myapp", CmdlineLower: "/usr/bin/java -jar app.jar"}
	if !f.IsWhitelisted(c) {
		t.Error("trusted keyword substring in cmdline should be whitelisted")
	}
}

func TestIsWhitelisted_CaseInsensitive(t *testing.T) {
	f := New(Config{TrustedProcesses: []string{"Chrome"}})
	if !f.IsWhitelisted(Candidate{Name: "CHROME-sandbox"}) {
		t.Error("keyword matching should be case-insensitive")
	}
}

func TestIsWhitelisted_UserKeyword(t *testing.T) {
	f := New(Config{UserWhitelist: []string{"myinternaltool"}})
	if !f.IsWhitelisted(Candidate{Name: "myinternaltool-worker"}) {
		t.Error("user keyword should be whitelisted")
	}
}

func TestIsWhitelisted_NoMatch(t *testing.T) {
	f := New(Config{
		ExactMatches:     []string{"sshd"},
		TrustedProcesses: []string{"chrome"},
		UserWhitelist:    []string{"myinternaltool"},
	})
	if f.IsWhitelisted(Candidate{Name: "xmrig", CmdlineLower: "xmrig --pool=evil.example.com"}) {
		t.Error("unrelated process should not be whitelisted")
	}
}

func TestIsWhitelisted_SkipSystemProcesses(t *testing.T) {
	f := New(Config{Options: Options{SkipSystemProcesses: true}})
	if !f.IsWhitelisted(Candidate{Name: "systemd-journald", IsSystemUser: true}) {
		t.Error("system process should be whitelisted when option enabled")
	}
	if f.IsWhitelisted(Candidate{Name: "xmrig", IsSystemUser: false}) {
		t.Error("non-system process should not be exempted by this option")
	}
}

func TestIsWhitelisted_SkipLowCPUProcesses(t *testing.T) {
	f := New(Config{Options: Options{SkipLowCPUProcesses: true, CPUThreshold: 1.0}})
	if !f.IsWhitelisted(Candidate{Name: "idle-thing", CPUPercent: 0.1, HasCPUPercent: true}) {
		t.Error("low CPU process should be whitelisted when option enabled")
	}
	if f.IsWhitelisted(Candidate{Name: "busy-thing", CPUPercent: 90, HasCPUPercent: true}) {
		t.Error("high CPU process should not be exempted by this option")
	}
}

func TestIsWhitelisted_SkipLowCPU_UnknownValueIsNonMatch(t *testing.T) {
	f := New(Config{Options: Options{SkipLowCPUProcesses: true, CPUThreshold: 1.0}})
	if f.IsWhitelisted(Candidate{Name: "unknown-cpu", HasCPUPercent: false}) {
		t.Error("unknown CPU percent should not trigger the low-CPU exemption")
	}
}

func TestIsWhitelisted_SkipShortLivedProcesses(t *testing.T) {
	f := New(Config{Options: Options{SkipShortLivedProcesses: true, MinUptimeSeconds: 300}})
	if !f.IsWhitelisted(Candidate{Name: "fresh", UptimeSeconds: 10, HasUptime: true}) {
		t.Error("short-lived process should be whitelisted when option enabled")
	}
	if f.IsWhitelisted(Candidate{Name: "longrunning", UptimeSeconds: 99999, HasUptime: true}) {
		t.Error("long-running process should not be exempted by this option")
	}
}

func TestIsWhitelisted_OptionsDisabledByDefault(t *testing.T) {
	f := New(Config{})
	if f.IsWhitelisted(Candidate{Name: "anything", IsSystemUser: true, UptimeSeconds: 1, HasUptime: true}) {
		t.Error("options should have no effect when disabled")
	}
}

func TestIsWhitelisted_EmptyKeywordNeverMatches(t *testing.T) {
	f := New(Config{TrustedProcesses: []string{""}})
	if f.IsWhitelisted(Candidate{Name: "anything", CmdlineLower: "anything goes here"}) {
		t.Error("empty keyword must never match as a substring of everything")
	}
}
