package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wildfire_crew/internal/config"
	"wildfire_crew/internal/consensus"
	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/env"
	"wildfire_crew/internal/logging"
	"wildfire_crew/internal/messaging/inproc"
	"wildfire_crew/internal/metrics"
	"wildfire_crew/internal/oracle"
	"wildfire_crew/internal/orchestrator"
	"wildfire_crew/internal/report"
	"wildfire_crew/internal/scenario"
	sqlitestore "wildfire_crew/internal/store/sqlite"
)

type options struct {
	configPath string
	dbPath     string
	envFile    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "wildfire",
		Short: "Coordinate a crew of LLM-driven agents in a wildfire simulator",
		Long: `wildfire runs episodes of a grid wildfire simulator where every agent's
next action is agreed by a consensus planner and translated into simulator
commands by a language model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.toml (default: ~/.wildfire/config.toml)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path override")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to read API keys from")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newPresetsCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	var (
		level    string
		mode     string
		seed     int64
		maxSteps int
		export   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one episode to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if maxSteps > 0 {
				cfg.Round.MaxSteps = maxSteps
			}

			rt, err := openRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, runErr := rt.service.RunEpisode(cmd.Context(), orchestrator.EpisodeInput{
				Level: firstNonEmpty(level, cfg.Round.Level),
				Mode:  firstNonEmpty(mode, cfg.Consensus.Mode),
				Seed:  seedOrDefault(cmd, seed, cfg.Round.Seed),
			})
			if res.EpisodeID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(res)
			}
			if runErr != nil {
				return runErr
			}
			if export != "" {
				if err := exportEpisode(context.WithoutCancel(cmd.Context()), rt.store, res.EpisodeID, export); err != nil {
					return err
				}
				logger.Info("episode exported", zap.String("path", export))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "level preset (default: round.level)")
	cmd.Flags().StringVar(&mode, "mode", "", "consensus mode: central or leader")
	cmd.Flags().Int64Var(&seed, "seed", 0, "simulator seed")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "timestep limit override")
	cmd.Flags().StringVar(&export, "export", "", "write an xlsx report of the episode to this path")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the episode API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			a := &app{cfg: cfg, service: rt.service, metrics: rt.metrics, logger: logger}
			server := &http.Server{
				Addr:              firstNonEmpty(addr, cfg.Server.Addr),
				Handler:           a.routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("wildfire started",
				zap.String("addr", server.Addr),
				zap.String("db", rt.dbPath),
				zap.String("model", cfg.Oracle.Model),
				zap.String("env", cfg.Env.Kind),
				zap.String("mode", cfg.Consensus.Mode),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			if id := rt.service.Running(); id != "" {
				_ = rt.service.CancelEpisode(id)
			}
			rt.service.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address override")
	return cmd
}

func newPresetsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the level presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			catalog, err := scenario.LoadFile(cfg.Round.PresetsFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LEVEL\tGAME\tMAP\tAGENTS")
			for _, name := range catalog.Names() {
				s, err := catalog.Settings(name, 0)
				if err != nil {
					fmt.Fprintf(tw, "%s\tinvalid: %v\t\t\n", name, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, s.GameType, s.MapSize, s.AgentCount())
			}
			return tw.Flush()
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <episode-id>",
		Short: "Export an episode's telemetry and decisions to xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, _, err := openStore(cmd.Context(), firstNonEmpty(opts.dbPath, cfg.Store.DBPath))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			path := firstNonEmpty(out, args[0]+".xlsx")
			if err := exportEpisode(cmd.Context(), store, args[0], path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: <episode-id>.xlsx)")
	return cmd
}

func loadConfig(opts *options) (config.Config, *zap.Logger, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, nil, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Store.DBPath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// runtime holds the long-lived collaborators of run and serve.
type runtime struct {
	store   *sqlitestore.Store
	dbPath  string
	metrics *metrics.Collector
	service *orchestrator.Service
}

func openRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	apiKey := cfg.Oracle.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s is not set", cfg.Oracle.APIKeyEnv)
	}
	catalog, err := scenario.LoadFile(cfg.Round.PresetsFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Store.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	store, dbPath, err := openStore(ctx, cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector("wildfire", logger)
	client, err := oracle.NewHTTPClient(oracle.HTTPConfig{
		Endpoint:        cfg.Oracle.Endpoint,
		Model:           cfg.Oracle.Model,
		ReasoningEffort: cfg.Oracle.ReasoningEffort,
		AuthToken:       apiKey,
		Timeout:         cfg.Oracle.Timeout(),
		MaxOutputTokens: cfg.Oracle.MaxOutputTokens,
		Tokens:          oracle.NewTokenCounter(cfg.Oracle.Encoding),
		Logger:          logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create oracle client: %w", err)
	}
	resilient := oracle.NewResilient(client, oracle.Policy{
		Timeout:           cfg.Oracle.Timeout(),
		Retries:           cfg.Oracle.Retries,
		Backoff:           cfg.Oracle.Backoff(),
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
		BreakerThreshold:  cfg.Oracle.BreakerThreshold,
		BreakerCooldown:   cfg.Oracle.BreakerCooldown(),
	}, collector, logger)

	service, err := orchestrator.NewService(orchestrator.ServiceDeps{
		Store:     store,
		Catalog:   catalog,
		Oracle:    resilient,
		Usage:     resilient,
		Bus:       inproc.New(cfg.Round.MessageLogCap),
		NewEnv:    envFactory(cfg.Env, logger),
		Metrics:   collector,
		Consensus: collector,
		Logger:    logger,
	}, serviceConfig(cfg))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &runtime{store: store, dbPath: dbPath, metrics: collector, service: service}, nil
}

func (r *runtime) Close() {
	_ = r.store.Close()
}

func serviceConfig(cfg config.Config) orchestrator.ServiceConfig {
	return orchestrator.ServiceConfig{
		Round: orchestrator.Config{
			MaxSteps:          cfg.Round.MaxSteps,
			StepHistoryWindow: cfg.Round.StepHistoryWindow,
			MessageLogCap:     cfg.Round.MessageLogCap,
			MessageMaxAge:     cfg.Round.MessageMaxAge,
			HistoryCap:        cfg.Round.HistoryCap,
			Concurrency:       cfg.Round.Concurrency,
			Perception:        cfg.Round.Perception,
		},
		Mode: cfg.Consensus.Mode,
		Central: consensus.CentralConfig{
			MaxRounds:          cfg.Consensus.MaxRounds,
			Fallback:           cfg.Consensus.Fallback,
			TranscriptCap:      cfg.Consensus.TranscriptCap,
			FramingTurns:       cfg.Consensus.FramingTurns,
			AcceptToken:        cfg.Consensus.AcceptToken,
			ConcurrentFeedback: cfg.Consensus.ConcurrentFeedback,
		},
		LogDir: cfg.Store.LogDir,
	}
}

func envFactory(cfg config.EnvConfig, logger *zap.Logger) orchestrator.EnvFactory {
	if cfg.Kind == "nats" {
		return func(context.Context) (env.Environment, error) {
			n, err := env.DialNATS(env.NATSConfig{
				URL:            cfg.NATSURL,
				SubjectPrefix:  cfg.SubjectPrefix,
				RequestTimeout: cfg.RequestTimeout(),
				Logger:         logger,
			})
			if err != nil {
				return nil, err
			}
			return n, nil
		}
	}
	return func(context.Context) (env.Environment, error) {
		return env.NewLoopback(cfg.Slots), nil
	}
}

func openStore(ctx context.Context, dbPath string) (*sqlitestore.Store, string, error) {
	dbPath = filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, "", fmt.Errorf("create db directory: %w", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, "", fmt.Errorf("migrate sqlite: %w", err)
	}
	return store, dbPath, nil
}

func exportEpisode(ctx context.Context, store *sqlitestore.Store, id, path string) error {
	ep, err := collectReport(ctx, store, id)
	if err != nil {
		return err
	}
	return report.Save(path, ep)
}

// episodeReader is the read side shared by the export command and the API.
type episodeReader interface {
	GetEpisode(ctx context.Context, id string) (domain.Episode, error)
	ListTelemetry(ctx context.Context, id string) ([]domain.TelemetryRow, error)
	ListDecisions(ctx context.Context, id string, limit int) ([]domain.DecisionLog, error)
}

func collectReport(ctx context.Context, r episodeReader, id string) (report.Episode, error) {
	ep, err := r.GetEpisode(ctx, id)
	if err != nil {
		return report.Episode{}, err
	}
	telemetry, err := r.ListTelemetry(ctx, id)
	if err != nil {
		return report.Episode{}, err
	}
	decisions, err := r.ListDecisions(ctx, id, exportDecisionLimit)
	if err != nil {
		return report.Episode{}, err
	}
	return report.Episode{Episode: ep, Telemetry: telemetry, Decisions: decisions}, nil
}

const exportDecisionLimit = 100000

func seedOrDefault(cmd *cobra.Command, seed, def int64) int64 {
	if cmd.Flags().Changed("seed") {
		return seed
	}
	return def
}
