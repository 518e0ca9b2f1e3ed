// Command guestbench runs performance-regression scenarios against a booted
// guest VM, comparing guest metrics to the same workload on the host.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/guestbench/guestbench/benchmark"
	_ "github.com/guestbench/guestbench/benchmark/iperf"
	_ "github.com/guestbench/guestbench/benchmark/pinglat"
	_ "github.com/guestbench/guestbench/benchmark/stream"
	_ "github.com/guestbench/guestbench/benchmark/stressng"
	"github.com/guestbench/guestbench/report"
	"github.com/guestbench/guestbench/scenario"
	"github.com/guestbench/guestbench/target"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "guestbench",
		Short: "Guest/host performance comparison harness",
		Long: `Guestbench runs standardized CPU, memory, and network workloads both on
the host machine and inside an already-booted guest VM, then compares the
guest/host metric ratios against a target threshold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")

	root.AddCommand(newRunCmd())
	return root
}

type runFlags struct {
	guestAddr     string
	guestPort     int
	guestUser     string
	guestKey      string
	guestPassword string
	scenarioFiles []string
	workDir       string
	resultDir     string
	timeout       time.Duration
	runs          int
	concurrency   int
}

func newRunCmd() *cobra.Command {
	f := runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run benchmark scenarios against a guest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.guestAddr, "guest-addr", "", "Address of the guest's SSH endpoint. Required.")
	flags.IntVar(&f.guestPort, "guest-port", 22, "SSH port of the guest.")
	flags.StringVar(&f.guestUser, "guest-user", "root", "SSH user on the guest.")
	flags.StringVar(&f.guestKey, "guest-key", "", "Path to the SSH private key for the guest.")
	flags.StringVar(&f.guestPassword, "guest-password", "", "SSH password for the guest. Prefer --guest-key.")
	flags.StringArrayVar(&f.scenarioFiles, "scenario-file", nil,
		"A scenario configuration file containing serialized benchmarks. Can be used multiple times; at least one is required.")
	flags.StringVar(&f.workDir, "work-dir", ".", "Local scratch directory for compiled binaries and artifacts.")
	flags.StringVar(&f.resultDir, "result-dir", "results", "Directory the JSON report is written into.")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Minute, "Timeout applied to each command execution.")
	flags.IntVar(&f.runs, "runs", 1, "How many times each workload runs per target; observations are averaged.")
	flags.IntVar(&f.concurrency, "concurrency", 1, "How many scenarios run at once.")

	cobra.CheckErr(cmd.MarkFlagRequired("guest-addr"))
	cobra.CheckErr(cmd.MarkFlagRequired("scenario-file"))
	return cmd
}

func run(cmd *cobra.Command, f *runFlags) error {
	auths, err := guestAuths(f)
	if err != nil {
		return err
	}

	guest := &target.SSHTarget{
		User:    f.guestUser,
		Addr:    f.guestAddr,
		SSHPort: f.guestPort,
		Auths:   auths,
	}
	host := target.NewLocalTarget()

	suite := scenario.NewSuite(f.concurrency)
	count := 0
	for _, sf := range f.scenarioFiles {
		data, err := os.ReadFile(sf)
		if err != nil {
			return err
		}
		var file benchmark.BenchmarkFile
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("decoding scenario file %s failed: %w", sf, err)
		}
		for _, sb := range file {
			b, err := benchmark.DeserializeBenchmark(&sb)
			if err != nil {
				return fmt.Errorf("scenario file %s: %w", sf, err)
			}
			suite.Add(b)
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("no benchmarks found in scenario files")
	}

	if err := os.MkdirAll(f.resultDir, 0o755); err != nil {
		return err
	}

	bar := progressbar.Default(int64(count), "scenarios")
	rep := suite.Run(cmd.Context(), &scenario.Config{
		Host:    host,
		Guest:   guest,
		WorkDir: f.workDir,
		Timeout: f.timeout,
		Runs:    f.runs,
	}, func(*report.ScenarioReport) { _ = bar.Add(1) })
	_ = bar.Finish()

	resultPath := filepath.Join(f.resultDir, "report.json")
	out, err := os.Create(resultPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := report.WriteJSON(out, rep); err != nil {
		return err
	}
	slog.Info("wrote report", slog.String("path", resultPath))

	if err := report.WriteSummary(os.Stdout, rep); err != nil {
		return err
	}

	if !rep.Passed() {
		return fmt.Errorf("one or more scenarios failed")
	}
	return nil
}

func guestAuths(f *runFlags) ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod
	if f.guestKey != "" {
		key, err := os.ReadFile(f.guestKey)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing guest key failed: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if f.guestPassword != "" {
		auths = append(auths, ssh.Password(f.guestPassword))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("either --guest-key or --guest-password is required")
	}
	return auths, nil
}
