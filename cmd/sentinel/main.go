// sentinel — a host-resident cryptojacking detector.
//
// Escalates through three tiers: coarse kernel-counter monitoring,
// per-process behavioral scoring, and live memory/blockchain
// verification, emitting a single structured alert line on confirmed
// detection.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/baikal/sentinel/internal/config"
	"github.com/baikal/sentinel/internal/ebpf"
	"github.com/baikal/sentinel/internal/escalation"
	"github.com/baikal/sentinel/internal/mcp"
	"github.com/baikal/sentinel/internal/output"
)

var version = "0.1.0"

func main() {
	var (
		monitorFlag    bool
		configPath     string
		whitelistPath  string
		quiet          bool
		verbose        bool
	)

	rootCmd := &cobra.Command{
		Use:     "sentinel",
		Short:   "Host-resident cryptojacking sentinel daemon",
		Version: version,
		Long: `sentinel — escalating cryptojacking detector.

Tier 1: /proc kernel counters, sampled on an interval (always runs, no root).
Tier 2: per-process behavioral scoring against the live process table.
Tier 3: live memory extraction cross-referenced against the current
Bitcoin block header, confirming or clearing the suspect set.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !monitorFlag {
				cmd.Usage()
				return fmt.Errorf("no flag or subcommand given; pass --monitor/-m or a subcommand")
			}
			return runMonitor(cmd.Context(), configPath, whitelistPath, quiet, verbose)
		},
	}
	rootCmd.Flags().BoolVarP(&monitorFlag, "monitor", "m", false, "Start the escalation daemon loop")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to sentinel configuration YAML")
	rootCmd.PersistentFlags().StringVarP(&whitelistPath, "whitelist", "w", "", "Path to whitelist YAML")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable per-tick debug output")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the escalation daemon loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), configPath, whitelistPath, quiet, verbose)
		},
	}

	capabilitiesCmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show kernel BTF/BPF capabilities (diagnostic only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapabilities()
		},
	}

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the read-only MCP introspection surface over stdio",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol.
Exposes get_status and get_rules; never mutates sentinel state or
triggers a scan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), configPath)
		},
	}

	rootCmd.AddCommand(monitorCmd, capabilitiesCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildMachine(configPath, whitelistPath string, quiet, verbose bool) (*escalation.Machine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	wl, err := config.LoadWhitelist(whitelistPath)
	if err != nil {
		return nil, err
	}

	progress := output.NewVerboseProgress(!quiet, verbose)

	machineCfg := escalation.Config{
		SamplingInterval: secondsToDuration(cfg.SamplingIntervalSeconds),
		WindowSpan:       cfg.TimeWindowSeconds,
		L3MaxPolls:       cfg.L3.MaxPolls,
		L3PollInterval:   secondsToDuration(cfg.L3.PollIntervalSeconds),
		WorkerPoolSize:   cfg.WorkerPoolSize,
	}
	return escalation.New(machineCfg, cfg.Metrics, wl, "/proc", cfg.L3.BlockHeaderEndpoint, progress), nil
}

func runMonitor(ctx context.Context, configPath, whitelistPath string, quiet, verbose bool) error {
	machine, err := buildMachine(configPath, whitelistPath, quiet, verbose)
	if err != nil {
		return fmt.Errorf("sentinel: %w", err)
	}
	return machine.Run(ctx)
}

func runCapabilities() error {
	caps := ebpf.DetectBPFCapabilities()
	fmt.Print(ebpf.FormatCapabilities(caps))

	btfInfo := ebpf.DetectBTF()
	fmt.Printf("Kernel: %s\n", btfInfo.KernelVersion)
	fmt.Printf("BTF: %v\n", btfInfo.Available)
	fmt.Printf("CO-RE: %v\n", btfInfo.CORESupport)
	return nil
}

// runMCP runs the escalation machine in the background of the same
// process and serves the MCP surface over stdio in the foreground, so
// get_status reflects a genuinely live snapshot rather than a machine
// that never ticks.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("sentinel: %w", err)
	}
	machine, err := buildMachine(configPath, "", true, false)
	if err != nil {
		return fmt.Errorf("sentinel: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go machine.Run(ctx)

	srv := mcp.NewServer(version, machine, cfg.Metrics)
	return srv.Start(ctx)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
