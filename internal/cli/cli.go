// ============================================================================
// slotdispatch CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands around one dispatch call
//
// Command Structure:
//   slotdispatch                   # Root command
//   ├── run                        # Dispatch a job file on the targets
//   │   └── --file, -f            # Job file (jobs list and/or sweep)
//   ├── status                     # Summarize a persisted results record
//   │   └── --failed              # Print failed ids only, one per line
//   ├── sweep                      # Print the expanded job list as YAML
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   ├── --log-level                # debug, info, warn, error
//   └── --version
//
// Configuration:
//   YAML file with dispatch, monitor, metrics and health sections. When the
//   default config path does not exist the built-in defaults apply; an
//   explicit --config must exist. Flags on `run` override config values.
//
// run Command:
//   1. Load config and job file
//   2. Start metrics HTTP server and gRPC health server (if enabled)
//   3. Dispatch: blocks until every job finished
//   4. Print a summary
//   5. With the monitor on, keep the viewer up until SIGINT/SIGTERM
//
//   Job failures are reported, not returned: the exit status is non-zero
//   only when the dispatch could not be set up or persisted.
//
//   Examples:
//     ./slotdispatch run -f jobs.yaml
//     ./slotdispatch run -f jobs.yaml --targets 0,1,gpu-box:0 --monitor
//
// status Command:
//     ./slotdispatch status -o results/out.json
//     ./slotdispatch status -o results/out.json --failed
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/ChuLiYu/slotdispatch/internal/controller"
	"github.com/ChuLiYu/slotdispatch/internal/metrics"
	"github.com/ChuLiYu/slotdispatch/internal/monitor"
	"github.com/ChuLiYu/slotdispatch/internal/server"
	"github.com/ChuLiYu/slotdispatch/internal/snapshot"
	"github.com/ChuLiYu/slotdispatch/internal/worker"
	"github.com/ChuLiYu/slotdispatch/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/default.yaml"

// Config represents the complete configuration file.
type Config struct {
	Dispatch struct {
		Targets []string `yaml:"targets"`
		Output  string   `yaml:"output"`
		// Filter is nil when no lines should be echoed; "" echoes everything.
		Filter      *string  `yaml:"filter"`
		Verbose     bool     `yaml:"verbose"`
		ErrorToken  string   `yaml:"error_token"`
		Interpreter string   `yaml:"interpreter"`
		SlotEnv     string   `yaml:"slot_env"`
		RemoteShell []string `yaml:"remote_shell"`
	} `yaml:"dispatch"`

	Monitor struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Port     int           `yaml:"port"`
		Command  string        `yaml:"command"`
		Args     []string      `yaml:"args"`
	} `yaml:"monitor"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Health struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"health"`
}

// defaultConfig mirrors configs/default.yaml.
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Dispatch.Targets = []string{"0"}
	cfg.Dispatch.Output = "results/out.json"
	cfg.Dispatch.ErrorToken = worker.DefaultErrorToken
	cfg.Dispatch.SlotEnv = worker.DefaultSlotEnv
	cfg.Dispatch.RemoteShell = []string{"ssh"}
	cfg.Monitor.Interval = monitor.DefaultInterval
	cfg.Monitor.Port = monitor.DefaultViewerPort
	cfg.Monitor.Command = monitor.DefaultViewerCommand
	cfg.Metrics.Port = 9090
	cfg.Health.Port = 50051
	return cfg
}

var (
	configFile string
	logLevel   string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slotdispatch",
		Short: "slotdispatch: run a batch of jobs across GPU slots",
		Long: `slotdispatch drains a queue of shell jobs over a fixed set of
execution slots (local devices or host:slot over ssh):
- one worker per slot, jobs taken first-come first-served
- per-job log files and a persisted {params, out} record
- optional viewer restarts, Prometheus metrics and gRPC health`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildSweepCommand())

	return rootCmd
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// ============================================================================
// run
// ============================================================================

type runOptions struct {
	jobFile         string
	targets         []string
	output          string
	filter          string
	verbose         bool
	monitor         bool
	monitorPort     int
	monitorInterval time.Duration
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch the jobs of a job file",
		Long:  "Run every job of the job file on the configured targets and persist the results record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, opts)

			jobs, err := loadJobFile(opts.jobFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDispatch(ctx, cfg, jobs, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.jobFile, "file", "f", "", "job file (YAML or JSON)")
	cmd.Flags().StringSliceVar(&opts.targets, "targets", nil, "execution targets, e.g. 0,1,host:2")
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "results record path")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "echo job output lines matching this regexp")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "report every output line of failed jobs")
	cmd.Flags().BoolVar(&opts.monitor, "monitor", false, "keep a viewer pointed at started jobs")
	cmd.Flags().IntVar(&opts.monitorPort, "monitor-port", 0, "viewer port")
	cmd.Flags().DurationVar(&opts.monitorInterval, "monitor-interval", 0, "viewer refresh interval")
	cmd.MarkFlagRequired("file")

	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *Config, opts runOptions) {
	flags := cmd.Flags()
	if flags.Changed("targets") {
		cfg.Dispatch.Targets = opts.targets
	}
	if flags.Changed("out") {
		cfg.Dispatch.Output = opts.output
	}
	if flags.Changed("filter") {
		filter := opts.filter
		cfg.Dispatch.Filter = &filter
	}
	if flags.Changed("verbose") {
		cfg.Dispatch.Verbose = opts.verbose
	}
	if flags.Changed("monitor") {
		cfg.Monitor.Enabled = opts.monitor
	}
	if flags.Changed("monitor-port") {
		cfg.Monitor.Port = opts.monitorPort
	}
	if flags.Changed("monitor-interval") {
		cfg.Monitor.Interval = opts.monitorInterval
	}
}

// buildControllerConfig turns the file config into a controller config.
func buildControllerConfig(cfg *Config, out io.Writer) (controller.Config, error) {
	targets, err := types.ParseTargets(cfg.Dispatch.Targets)
	if err != nil {
		return controller.Config{}, err
	}

	opts := worker.Options{
		ErrorToken: cfg.Dispatch.ErrorToken,
		Verbose:    cfg.Dispatch.Verbose,
		Out:        out,
	}
	if cfg.Dispatch.Filter != nil {
		re, err := regexp.Compile(*cfg.Dispatch.Filter)
		if err != nil {
			return controller.Config{}, fmt.Errorf("invalid filter: %w", err)
		}
		opts.Filter = re
	}

	ctrlConfig := controller.Config{
		Targets:    targets,
		OutputPath: cfg.Dispatch.Output,
		Executor: &worker.Executor{
			SlotEnv:     cfg.Dispatch.SlotEnv,
			Interpreter: cfg.Dispatch.Interpreter,
			RemoteShell: cfg.Dispatch.RemoteShell,
		},
		Options: opts,
	}

	if cfg.Monitor.Enabled {
		ctrlConfig.Monitor = &controller.MonitorConfig{
			Interval: cfg.Monitor.Interval,
			Viewer: &monitor.ProcessViewer{
				Command: cfg.Monitor.Command,
				Args:    cfg.Monitor.Args,
				Port:    cfg.Monitor.Port,
			},
		}
	}
	return ctrlConfig, nil
}

func runDispatch(ctx context.Context, cfg *Config, jobs []types.Job, out io.Writer) error {
	ctrlConfig, err := buildControllerConfig(cfg, out)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		ctrlConfig.Metrics = metrics.NewCollector(reg)
		go func() {
			slog.Info("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port, reg); err != nil {
				slog.Warn("Metrics server error", "error", err)
			}
		}()
	}

	if cfg.Health.Enabled {
		hs := server.NewHealthServer()
		if _, err := hs.Listen(cfg.Health.Port); err != nil {
			return err
		}
		defer hs.Stop()
		hs.SetServing(true)
		defer hs.SetServing(false)
	}

	ctrl := controller.NewController(ctrlConfig)
	defer ctrl.Close()

	results, err := ctrl.Dispatch(ctx, jobs)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}
	printSummary(out, results, cfg.Dispatch.Output)

	if ctrlConfig.Monitor != nil && ctx.Err() == nil {
		fmt.Fprintf(out, "Viewer running on port %d, press Ctrl+C to stop\n", cfg.Monitor.Port)
		<-ctx.Done()
	}
	return nil
}

func printSummary(out io.Writer, results map[types.JobID]*types.JobResult, output string) {
	succeeded, failed, failedIDs := controller.Summarize(results)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Jobs:      %d\n", len(results))
	fmt.Fprintf(out, "Succeeded: %d\n", succeeded)
	fmt.Fprintf(out, "Failed:    %d\n", failed)
	for _, id := range failedIDs {
		fmt.Fprintf(out, "  └─ %s (exit %d)\n", id, results[id].ExitCode)
	}
	fmt.Fprintf(out, "Results:   %s\n", output)
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var output string
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize a results record",
		Long:  "Print the outcome of a finished dispatch from its persisted results record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("out") {
				cfg, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				output = cfg.Dispatch.Output
			}
			return showStatus(cmd.OutOrStdout(), output, failedOnly)
		},
	}

	cmd.Flags().StringVarP(&output, "out", "o", "", "results record path (default from config)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "print failed job ids only, one per line")
	return cmd
}

func showStatus(out io.Writer, path string, failedOnly bool) error {
	record, err := snapshot.NewManager(path).Load()
	if err != nil {
		return err
	}

	succeeded, failed, failedIDs := controller.Summarize(record.Out)
	if failedOnly {
		for _, id := range failedIDs {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	missing := 0
	for _, job := range record.Params {
		if _, ok := record.Out[job.ID]; !ok {
			missing++
		}
	}

	fmt.Fprintf(out, "Results: %s\n", path)
	fmt.Fprintf(out, "  ├─ Jobs:      %d\n", len(record.Params))
	fmt.Fprintf(out, "  ├─ Succeeded: %d\n", succeeded)
	fmt.Fprintf(out, "  ├─ Failed:    %d\n", failed)
	fmt.Fprintf(out, "  └─ Missing:   %d\n", missing)
	for _, id := range failedIDs {
		r := record.Out[id]
		fmt.Fprintf(out, "     %s: exit %d on %s\n", id, r.ExitCode, r.Target)
	}
	return nil
}

// ============================================================================
// sweep
// ============================================================================

func buildSweepCommand() *cobra.Command {
	var jobFile string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Print the expanded job list of a job file",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobFile(jobFile)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(JobFile{Jobs: jobs})
			if err != nil {
				return fmt.Errorf("failed to encode jobs: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "job file (YAML or JSON)")
	cmd.MarkFlagRequired("file")
	return cmd
}

// ============================================================================
// config
// ============================================================================

// resolveConfig loads the --config file. A missing file at the default path
// yields the built-in defaults.
func resolveConfig(cmd *cobra.Command) (*Config, error) {
	if !cmd.Flags().Changed("config") && configFile == defaultConfigPath {
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			slog.Debug("No config file, using defaults", "path", configFile)
			return defaultConfig(), nil
		}
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadConfig reads path on top of the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}
