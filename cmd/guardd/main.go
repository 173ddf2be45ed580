// Package main provides the entry point for the runtime agent guard.
// The guard mediates every tool invocation issued by an autonomous agent:
// for each proposed call it returns ALLOW, ASK, or BLOCK together with a
// risk score and machine-readable reason codes, and the orchestrator
// enforces the verdicts.
package main

import (
	"bufio"
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

	"github.com/ShirePyDev/runtime-agent-guard/internal/api"
	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
	"github.com/ShirePyDev/runtime-agent-guard/internal/config"
	"github.com/ShirePyDev/runtime-agent-guard/internal/db"
	"github.com/ShirePyDev/runtime-agent-guard/internal/eval"
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/monitor"
	"github.com/ShirePyDev/runtime-agent-guard/internal/orchestrator"
	"github.com/ShirePyDev/runtime-agent-guard/internal/telemetry"
	"github.com/ShirePyDev/runtime-agent-guard/internal/tools"
	"github.com/ShirePyDev/runtime-agent-guard/pkg/opagate"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guardd",
		Short: "Runtime security monitor for autonomous agents",
		Long: `guardd mediates every tool invocation an autonomous agent proposes.

Features:
  • ALLOW / ASK / BLOCK verdicts with risk scores and reason codes
  • SQL entity extraction and data-sensitivity classification
  • Cross-step invariants: classified-access egress control, taint
    propagation, repetition escalation, per-session risk budget
  • Tamper-evident run logs with a step hash chain
  • Optional policy-as-code tool-access gate via OPA`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the guard API server",
		RunE:  runServer,
	}
	serveCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")

	evalCmd := &cobra.Command{
		Use:   "eval [dataset.ndjson]",
		Short: "Replay an episode dataset and compare verdicts",
		Args:  cobra.ExactArgs(1),
		RunE:  runEval,
	}
	evalCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	evalCmd.Flags().Bool("debug", false, "Enable debug logging")
	evalCmd.Flags().StringP("output", "o", "text", "Output format: text or json")

	validateCmd := &cobra.Command{
		Use:   "validate [dataset.ndjson]",
		Short: "Validate an episode dataset without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	runCmd := &cobra.Command{
		Use:   "run [episode.json]",
		Short: "Execute a single episode with interactive approval",
		Args:  cobra.ExactArgs(1),
		RunE:  runEpisode,
	}
	runCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	runCmd.Flags().Bool("debug", false, "Enable debug logging")
	runCmd.Flags().Bool("auto-confirm", false, "Treat ASK like ALLOW (debugging only)")
	runCmd.Flags().Bool("non-interactive", false, "Stop safely on the first ASK")

	rootCmd.AddCommand(serveCmd, evalCmd, validateCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	configureLogging(debug)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Server.Port = port
	}

	log.Info().
		Str("version", version).
		Str("port", cfg.Server.Port).
		Str("policy_mode", cfg.Policy.Mode).
		Msg("starting guard server")

	ctx := context.Background()

	classifier, err := classify.Load(cfg.Classifier.Path)
	if err != nil {
		return fmt.Errorf("failed to load classifier config: %w", err)
	}

	var monitorOpts []monitor.Option

	if cfg.OPA.Enabled {
		gate := opagate.New()
		switch {
		case cfg.OPA.BundlePath != "":
			err = gate.LoadBundle(ctx, cfg.OPA.BundlePath)
		case len(cfg.OPA.PolicyDirs) > 0:
			err = gate.LoadPolicies(ctx, cfg.OPA.PolicyDirs)
		default:
			err = fmt.Errorf("opa enabled but no bundle_path or policy_dirs configured")
		}
		if err != nil {
			return fmt.Errorf("failed to load tool access policy: %w", err)
		}
		monitorOpts = append(monitorOpts, monitor.WithAccessGate(gate))
		log.Info().Msg("tool access gate enabled")
	}

	var provider *telemetry.Provider
	if cfg.OTEL.Enabled {
		provider, err = telemetry.NewProvider(telemetry.Config{
			ServiceName:    cfg.OTEL.ServiceName,
			ServiceVersion: cfg.OTEL.ServiceVersion,
			Environment:    cfg.OTEL.Environment,
			OTLPEndpoint:   cfg.OTEL.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		monitorOpts = append(monitorOpts, monitor.WithRecorder(provider))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown error")
			}
		}()
	}

	m := monitor.New(classifier, cfg.GuardPolicy(), monitorOpts...)

	registry, closeDB := buildRegistry(ctx, cfg)
	defer closeDB()

	orc := orchestrator.New(m, registry,
		orchestrator.WithRunLog(cfg.Logs.Dir),
		orchestrator.WithStepTimeout(time.Duration(cfg.Policy.StepTimeoutSeconds)*time.Second),
	)

	deps := &api.RouterDeps{Monitor: m, Orchestrator: orc, Telemetry: provider}
	router := api.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server...")
		if deps.StopRateLimiter != nil {
			deps.StopRateLimiter()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// buildRegistry wires the real tools. The SQL tool degrades gracefully to
// an error result when no database is reachable.
func buildRegistry(ctx context.Context, cfg *config.Config) (*tools.Registry, func()) {
	sqlRunner := &tools.SQLRunner{}
	closeDB := func() {}

	if cfg.Database.Host != "" && cfg.Database.User != "" {
		pg, err := db.New(ctx, db.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		})
		if err != nil {
			log.Warn().Err(err).Msg("database connection failed; run_sql will return errors")
		} else {
			sqlRunner.Pool = pg.Pool
			closeDB = pg.Close
		}
	} else {
		log.Info().Msg("no database configured; run_sql will return errors")
	}

	registry := tools.NewRegistry(
		&tools.FileReader{Base: cfg.Docs.Base},
		&tools.DocsSearcher{Base: cfg.Docs.Base},
		sqlRunner,
		&tools.EmailSink{LogPath: cfg.Logs.EmailLog},
		&tools.WikiSearcher{},
	)
	return registry, closeDB
}

func runEval(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	configureLogging(debug)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	classifier, err := classify.Load(cfg.Classifier.Path)
	if err != nil {
		return fmt.Errorf("failed to load classifier config: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	episodes, err := eval.LoadEpisodes(f)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	if err := eval.Validate(episodes); err != nil {
		return fmt.Errorf("dataset validation failed:\n%w", err)
	}

	runner := &eval.Runner{Classifier: classifier, BaseConfig: cfg.GuardPolicy()}
	report, err := runner.Run(cmd.Context(), episodes)
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("episodes: %d  passed: %d  accuracy: %.1f%%\n",
		report.Total, report.Passed, report.Accuracy*100)
	for _, res := range report.Results {
		if res.Pass {
			continue
		}
		fmt.Printf("FAIL %s (%s)\n", res.ID, res.Label)
		for _, name := range []string{"balanced", "strict", "auto_confirm", "strict_auto"} {
			want, ok := res.Want[name]
			if !ok {
				continue
			}
			if got := res.Got[name]; got != want {
				fmt.Printf("  %s: got %s want %s\n", name, got, want)
			}
		}
	}
	if report.Passed < report.Total {
		return fmt.Errorf("%d episode(s) failed", report.Total-report.Passed)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	configureLogging(false)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	episodes, err := eval.LoadEpisodes(f)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	if err := eval.Validate(episodes); err != nil {
		return fmt.Errorf("dataset validation failed:\n%w", err)
	}

	fmt.Printf("dataset valid: %d episode(s)\n", len(episodes))
	return nil
}

func runEpisode(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	configureLogging(debug)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	classifier, err := classify.Load(cfg.Classifier.Path)
	if err != nil {
		return fmt.Errorf("failed to load classifier config: %w", err)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading episode: %w", err)
	}
	var episode struct {
		Goal    string         `json:"goal"`
		Actions []guard.Action `json:"actions"`
	}
	if err := json.Unmarshal(raw, &episode); err != nil {
		return fmt.Errorf("parsing episode: %w", err)
	}

	ctx := cmd.Context()
	m := monitor.New(classifier, cfg.GuardPolicy())
	registry, closeDB := buildRegistry(ctx, cfg)
	defer closeDB()

	orc := orchestrator.New(m, registry,
		orchestrator.WithRunLog(cfg.Logs.Dir),
		orchestrator.WithApprover(&terminalApprover{}),
		orchestrator.WithStepTimeout(time.Duration(cfg.Policy.StepTimeoutSeconds)*time.Second),
	)

	autoConfirm, _ := cmd.Flags().GetBool("auto-confirm")
	nonInteractive, _ := cmd.Flags().GetBool("non-interactive")

	result, runErr := orc.Run(ctx, episode.Goal, episode.Actions, orchestrator.Options{
		Interactive: !nonInteractive,
		AutoConfirm: autoConfirm,
	})

	for _, step := range result.Steps {
		fmt.Printf("step %d %-18s %-5s risk=%.2f %s\n",
			step.Step, step.Tool, step.Decision, step.RiskScore, strings.Join(step.ReasonCodes, ","))
	}
	if result.LogPath != "" {
		fmt.Printf("run log: %s\n", result.LogPath)
	}
	if runErr != nil {
		fmt.Printf("terminated: %v\n", runErr)
	}
	return nil
}

// terminalApprover prompts on stdin, the mock human-approval collaborator.
type terminalApprover struct{}

func (t *terminalApprover) Approve(_ context.Context, req orchestrator.ApprovalRequest) (bool, error) {
	fmt.Println("\n=== APPROVAL REQUIRED ===")
	fmt.Printf("Goal:      %s\n", req.Goal)
	fmt.Printf("Tool:      %s\n", req.Tool)
	fmt.Printf("Arguments: %v\n", req.Args)
	fmt.Printf("Risk:      %.2f\n", req.RiskScore)
	fmt.Printf("Reason:    %s\n", req.Reason)
	fmt.Print("Approve this action? (y/n): ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func configureLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
