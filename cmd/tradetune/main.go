package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradetune/internal/application"
	"github.com/sawpanic/tradetune/internal/config"
	"github.com/sawpanic/tradetune/internal/metrics"
)

const (
	appName = "tradetune"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Adaptive tuning loop for the trading agent's decision knobs",
		Version: version,
		Long: `tradetune maintains the layered knob registry of an autonomous trading
agent: it resolves tracked calls against market outcomes, learns bounded
feature penalties and source biases, classifies the recent performance
regime, and proposes knob adjustments it never commits on its own.

Committing is always the explicit 'apply' action.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/tradetune.yaml", "Path to configuration file")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve open calls and fold outcomes into the learning tables",
		Long:  "Ingests newly opened calls from the decision journal, resolves calls past their horizon, updates penalties, source biases and conviction memory, and saves the next snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, err := loopMode(cmd)
			if err != nil {
				return err
			}
			return runResolve(configPath, loop)
		},
	}
	resolveCmd.Flags().Bool("once", false, "Run a single pass and exit (default)")
	resolveCmd.Flags().Bool("loop", false, "Keep running on the configured cadence")

	reevaluateCmd := &cobra.Command{
		Use:   "reevaluate",
		Short: "Run a reevaluation pass and record the resulting proposals",
		Long:  "Builds the telemetry window, classifies the regime, validates policy deltas against the knob registry, and appends the report; commits nothing",
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, err := loopMode(cmd)
			if err != nil {
				return err
			}
			return runReevaluate(configPath, loop)
		},
	}
	reevaluateCmd.Flags().Bool("once", false, "Run a single pass and exit (default)")
	reevaluateCmd.Flags().Bool("loop", false, "Keep running on the configured cadence")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show recorded reevaluation reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			last, _ := cmd.Flags().GetInt("last")
			return runReport(configPath, last)
		},
	}
	reportCmd.Flags().Int("last", 1, "Number of most recent reports to show")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Commit accepted proposals from a recorded report",
		Long:  "The only path that changes live knob values. Defaults to every accepted proposal of the latest report; narrow with --report and --knobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			reportID, _ := cmd.Flags().GetString("report")
			knobs, _ := cmd.Flags().GetString("knobs")
			return runApply(configPath, reportID, knobs)
		},
	}
	applyCmd.Flags().String("report", "", "Report ID to apply (default: latest)")
	applyCmd.Flags().String("knobs", "", "Comma-separated knob IDs to commit (default: all accepted)")

	knobsCmd := &cobra.Command{
		Use:   "knobs",
		Short: "Show the knob registry with layers, bounds and current values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnobs(configPath)
		},
	}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and maintain the persisted tuning state",
	}
	stateShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateShow(configPath)
		},
	}
	stateGoLiveCmd := &cobra.Command{
		Use:   "golive",
		Short: "Enable or disable execution adaptation (L4)",
		RunE: func(cmd *cobra.Command, args []string) error {
			disable, _ := cmd.Flags().GetBool("disable")
			return runGoLive(configPath, !disable)
		},
	}
	stateGoLiveCmd.Flags().Bool("disable", false, "Pin L4 back to its no-op value")
	stateDecayCmd := &cobra.Command{
		Use:   "decay",
		Short: "Decay feature penalties toward zero (explicit maintenance)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecay(configPath)
		},
	}
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateGoLiveCmd)
	stateCmd.AddCommand(stateDecayCmd)

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reevaluateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(knobsCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loopMode resolves the --once/--loop pair. Once is the default.
func loopMode(cmd *cobra.Command) (bool, error) {
	once, _ := cmd.Flags().GetBool("once")
	loop, _ := cmd.Flags().GetBool("loop")
	if once && loop {
		return false, fmt.Errorf("--once and --loop are mutually exclusive")
	}
	return loop, nil
}

// setup loads configuration and wires the application.
func setup(configPath string) (*application.App, config.Config, *metrics.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := application.OpenStore(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}

	m := metrics.NewRegistry()
	return application.New(cfg, store, nil, m), cfg, m, nil
}

// serveMetrics exposes /metrics for loop modes.
func serveMetrics(ctx context.Context, cfg config.Config, m *metrics.Registry) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runResolve(configPath string, loop bool) error {
	app, cfg, m, err := setup(configPath)
	if err != nil {
		return err
	}

	if loop {
		ctx, cancel := signalContext()
		defer cancel()
		serveMetrics(ctx, cfg, m)
		err := app.ResolveLoop(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := app.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve pass failed: %w", err)
	}
	fmt.Printf("Resolved %d call(s), %d still open, snapshot v%d\n",
		len(res.Resolutions), res.OpenCalls, res.SnapshotVersion)
	return printJSON(res)
}

func runReevaluate(configPath string, loop bool) error {
	app, cfg, m, err := setup(configPath)
	if err != nil {
		return err
	}

	if loop {
		ctx, cancel := signalContext()
		defer cancel()
		serveMetrics(ctx, cfg, m)
		err := app.ReevaluateLoop(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rep, err := app.Reevaluate(ctx)
	if err != nil {
		return fmt.Errorf("reevaluation pass failed: %w", err)
	}
	fmt.Printf("Regime %s (low confidence: %t), %d proposal(s), %d accepted\n",
		rep.Regime, rep.LowConfidence, len(rep.Proposals), len(rep.Accepted()))
	return printJSON(rep)
}

func runReport(configPath string, last int) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}
	reports, err := app.Reports().List()
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports recorded yet")
		return nil
	}
	if last < 1 {
		last = 1
	}
	if last > len(reports) {
		last = len(reports)
	}
	return printJSON(reports[len(reports)-last:])
}

func runApply(configPath, reportID, knobList string) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}

	var knobIDs []string
	for _, id := range strings.Split(knobList, ",") {
		if id = strings.TrimSpace(id); id != "" {
			knobIDs = append(knobIDs, id)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := app.Apply(ctx, reportID, knobIDs)
	if err != nil {
		return err
	}
	fmt.Printf("Committed %d knob(s) from report %s, snapshot v%d\n",
		len(res.Committed), res.ReportID, res.SnapshotVersion)
	return printJSON(res)
}

func runKnobs(configPath string) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	knobs, goLive, err := app.Knobs(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Execution adaptation live: %t\n\n", goLive)
	fmt.Printf("%-30s %-5s %10s %10s %10s %9s %8s\n",
		"KNOB", "LAYER", "VALUE", "LOWER", "UPPER", "STEP CAP", "TUNABLE")
	for _, k := range knobs {
		fmt.Printf("%-30s %-5s %10.4f %10.4f %10.4f %9.4f %8t\n",
			k.ID, k.Layer, k.Value, k.Lower, k.Upper, k.StepCap, k.Tunable)
	}
	return nil
}

func runStateShow(configPath string) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := app.Snapshot(ctx)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runGoLive(configPath string, live bool) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	version, err := app.SetGoLive(ctx, live)
	if err != nil {
		return err
	}
	fmt.Printf("Execution adaptation live: %t, snapshot v%d\n", live, version)
	return nil
}

func runDecay(configPath string) error {
	app, _, _, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	version, err := app.Decay(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Feature penalties decayed, snapshot v%d\n", version)
	return nil
}
