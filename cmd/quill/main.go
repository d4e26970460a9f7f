package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jordanhubbard/quill/internal/constraint"
	"github.com/jordanhubbard/quill/internal/database"
	"github.com/jordanhubbard/quill/internal/engine"
	"github.com/jordanhubbard/quill/internal/governance"
	"github.com/jordanhubbard/quill/internal/lockscope"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/messagebus"
	"github.com/jordanhubbard/quill/internal/metrics"
	"github.com/jordanhubbard/quill/internal/node"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
	"github.com/jordanhubbard/quill/internal/telemetry"
	"github.com/jordanhubbard/quill/internal/worker"
	"github.com/jordanhubbard/quill/pkg/config"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "quill",
		Short:   "Quill - workflow execution engine for LLM document production",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults apply when empty)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidatePlanCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfigFromFile(configPath)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the execution engine: plan loading, claim workers, resume bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, "quill", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Printf("[Main] Warning: telemetry init failed: %v", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Printf("[Main] Warning: telemetry shutdown failed: %v", err)
			}
		}()
	}

	db, err := database.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	plans := plan.NewStore()
	if err := plans.InstallDir(cfg.Plans.Dir); err != nil {
		return fmt.Errorf("failed to load plans from %s: %w", cfg.Plans.Dir, err)
	}
	if cfg.Plans.HotReload {
		if err := plans.Watch(ctx, cfg.Plans.Dir); err != nil {
			log.Printf("[Main] Warning: plan hot reload disabled: %v", err)
		}
	}

	bus, err := messagebus.NewNatsMessageBus(messagebus.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
		Timeout:    cfg.NATS.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer bus.Close()

	var scopes worker.Scopes
	if cfg.Redis.Address != "" {
		client, err := lockscope.NewRedisClient(cfg.Redis.Address)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		scopes = lockscope.NewManager(client, cfg.Redis.LeaseTTL)
	}

	var scanner governance.Scanner = governance.NoopScanner{}
	if cfg.Governance.SecretScanEnabled {
		scanner = governance.NewRegexScanner()
	}

	m := metrics.NewMetrics()
	llm := provider.WithMetrics(
		provider.NewOpenAIClient(cfg.Provider.Endpoint, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.Timeout),
		m, cfg.Provider.Model)

	nodes := node.NewRegistry(node.Deps{
		LLM:       llm,
		Mech:      mech.DefaultRegistry(),
		Validator: constraint.NewValidator(),
		Drift:     constraint.NewDriftChecker(),
		Scanner:   scanner,
		Documents: db,
	})

	eng := engine.New(db, plans, nodes, bus, m)

	bridge := messagebus.NewBridge(eng, bus)
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start resume bridge: %w", err)
	}

	pool := worker.NewPool(eng, db, worker.Options{
		Size:         cfg.Worker.PoolSize,
		PollInterval: cfg.Worker.PollInterval,
		StaleAfter:   cfg.Worker.StaleAfter,
		Scopes:       scopes,
		Metrics:      m,
	})
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer pool.Stop()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("[Main] Metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[Main] Metrics server stopped: %v", err)
		}
	}()

	log.Printf("[Main] Quill %s serving, plans from %s", version, cfg.Plans.Dir)
	<-ctx.Done()
	log.Printf("[Main] Shutting down")
	return nil
}

func newValidatePlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-plan <file-or-dir>...",
		Short: "Validate plan definitions without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes := node.NewRegistry(node.Deps{Mech: mech.DefaultRegistry()})
			failed := 0
			for _, arg := range args {
				info, err := os.Stat(arg)
				if err != nil {
					return err
				}
				if info.IsDir() {
					store := plan.NewStore()
					if err := store.InstallDir(arg); err != nil {
						fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
						failed++
						continue
					}
					fmt.Printf("%s: ok\n", arg)
					continue
				}
				p, err := plan.LoadFromFile(arg)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
					failed++
					continue
				}
				if err := nodes.Check(p); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
					failed++
					continue
				}
				fmt.Printf("%s: ok (%s v%d, %d nodes, %d edges)\n", arg, p.ID, p.Version, len(p.Nodes), len(p.Edges))
			}
			if failed > 0 {
				return fmt.Errorf("%d plan(s) failed validation", failed)
			}
			return nil
		},
	}
}
