// dexd hosts the pooled-liquidity ledger behind a JSON-RPC endpoint (HTTP and websocket)
// and exposes its metrics for Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/defistate/defistate-dex-go/assets"
	"github.com/defistate/defistate-dex-go/auth"
	"github.com/defistate/defistate-dex-go/cmd/dexd/config"
	"github.com/defistate/defistate-dex-go/differ"
	"github.com/defistate/defistate-dex-go/events"
	"github.com/defistate/defistate-dex-go/ledger"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/defistate/defistate-dex-go/store/sqlite"
	"github.com/defistate/defistate-dex-go/streams/jsonrpc/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dexd",
		Short:         "dexd runs a pooled-liquidity ledger behind JSON-RPC.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTreasuryCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "dexd.yaml", "Path to the configuration file.")
	return cmd
}

func newTreasuryCmd() *cobra.Command {
	var moduleID string
	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Print the treasury account derived from a module id",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseModuleID(moduleID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ledger.TreasuryAccount(id).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleID, "module-id", ledger.DefaultModuleID.String(), "Eight byte module identity.")
	return cmd
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledgerStore, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	// balances, freezes and nonces share the pool store so they survive a restart with it
	assetLedger := assets.New(ledgerStore)
	if err := applyGenesis(ctx, assetLedger, cfg.Genesis, rootLogger); err != nil {
		return err
	}

	authenticator := auth.NewAuthenticator(ledgerStore)
	feed := events.NewFeed(rootLogger.With("component", "event-feed"), events.DefaultQueueSize)
	defer feed.Close()

	moduleID, err := ledger.ParseModuleID(cfg.ModuleID)
	if err != nil {
		return err
	}

	l, err := ledger.New(&ledger.Config{
		Store:         ledgerStore,
		Assets:        assetLedger,
		Authenticator: authenticator,
		Events:        events.Multi{feed, events.NewLogSink(rootLogger.With("component", "events"))},
		Logger:        rootLogger.With("component", "ledger"),
		Registry:      registry,
		ModuleID:      moduleID,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Registry: registry,
		Logger:   rootLogger.With("component", "differ"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize differ: %w", err)
	}

	rpcServer, err := server.NewServer(ctx, server.Config{
		Ledger: l,
		Nonces: authenticator,
		Events: feed,
		Differ: stateDiffer,
		Logger: rootLogger.With("component", "jsonrpc-server"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize RPC server: %w", err)
	}
	defer rpcServer.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	servers := []*http.Server{
		{Addr: cfg.ListenAddr, Handler: rpcServer.Handler(cfg.AllowedOrigins), BaseContext: func(net.Listener) context.Context { return ctx }},
		{Addr: cfg.MetricsAddr, Handler: metricsMux},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	rootLogger.Info("dexd started",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"store", cfg.Store.Driver,
		"module_id", moduleID.String(),
		"treasury", l.Treasury().Hex(),
	)

	select {
	case <-ctx.Done():
		rootLogger.Info("Shutting down...")
	case err = <-errCh:
		rootLogger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return err
}

// applyGenesis mints the configured balances the first time a store is used.
func applyGenesis(ctx context.Context, assetLedger *assets.Ledger, genesis config.GenesisConfig, logger *slog.Logger) error {
	allocations := make([]assets.Allocation, 0, len(genesis.Balances))
	for _, b := range genesis.Balances {
		account, amount, err := b.Parse()
		if err != nil {
			return err
		}
		allocations = append(allocations, assets.Allocation{Asset: b.Asset, Account: account, Amount: amount})
	}

	applied, err := assetLedger.ApplyGenesis(ctx, allocations)
	if err != nil {
		return fmt.Errorf("failed to apply genesis balances: %w", err)
	}
	if applied {
		logger.Info("Applied genesis balances", "count", len(allocations))
	} else {
		logger.Info("Store already initialised; genesis balances skipped")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
