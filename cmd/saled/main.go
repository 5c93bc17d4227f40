package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/engine"
	"github.com/sunrisedotdev/sonar-sub000/permit"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "saled",
	Short: "Token sale settlement engine daemon",
	Long: "saled runs the multi-stage token sale settlement engine: a " +
		"single-writer ledger behind a socket server, with snapshot " +
		"persistence and signed settlement proofs.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settlement engine server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "saled.yaml", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = log.Sync() }()

	sale, err := openSale(cfg, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	eng, err := engine.New(engine.Options{
		Sale:         sale,
		Logger:       log,
		Metrics:      metrics,
		SnapshotPath: cfg.Snapshot.Path,
	})
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, log, cfg.Metrics.Addr, registry)
	}

	server := engine.NewServer(eng, log, engine.ServerConfig{
		Kind:       engine.ListenerKind(cfg.Listener.Kind),
		Addr:       cfg.Listener.Addr,
		VsockPort:  cfg.Listener.VsockPort,
		MaxWorkers: cfg.Listener.MaxWorkers,
	})

	err = server.Serve(ctx)

	if cfg.Snapshot.Path != "" {
		if snapErr := eng.Snapshot(); snapErr != nil {
			log.Error("failed to write shutdown snapshot", zap.Error(snapErr))
		} else {
			log.Info("shutdown snapshot written", zap.String("path", cfg.Snapshot.Path))
		}
	}
	return err
}

// openSale restores the sale from a snapshot when one exists,
// otherwise it creates a fresh sale from the config.
func openSale(cfg *Config, log *zap.Logger) (*core.Sale, error) {
	access, err := engine.NewStaticAccessController(cfg.Grants)
	if err != nil {
		return nil, errors.Wrap(err, "build access controller")
	}

	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = "treasury.jsonl"
	}
	journal, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open treasury journal")
	}

	deps := core.Dependencies{
		Access:   access,
		Verifier: permit.NewVerifier(),
		Treasury: engine.NewJournalTreasury(journal),
		Clock:    core.SystemClock(),
	}

	if cfg.Snapshot.Path != "" {
		if _, statErr := os.Stat(cfg.Snapshot.Path); statErr == nil {
			exp, err := engine.LoadSnapshot(cfg.Snapshot.Path)
			if err != nil {
				return nil, errors.Wrap(err, "load snapshot")
			}
			sale, err := core.RestoreSale(exp, deps)
			if err != nil {
				return nil, errors.Wrap(err, "restore sale")
			}
			log.Info("sale restored from snapshot",
				zap.String("path", cfg.Snapshot.Path),
				zap.String("sale_id", exp.SaleID.String()),
				zap.String("stage", exp.Stage.String()))
			return sale, nil
		}
	}

	saleCfg, err := buildSaleConfig(&cfg.Sale)
	if err != nil {
		return nil, err
	}
	sale, err := core.NewSale(saleCfg, deps)
	if err != nil {
		return nil, errors.Wrap(err, "create sale")
	}
	log.Info("new sale created", zap.String("sale_id", saleCfg.SaleID.String()))
	return sale, nil
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string, registry *prometheus.Registry) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", zap.Error(err))
	}
}
