package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tungdtfgw/ccviz/internal/config"
	"github.com/tungdtfgw/ccviz/internal/engine"
	"github.com/tungdtfgw/ccviz/internal/events"
	"github.com/tungdtfgw/ccviz/internal/httpapi"
	"github.com/tungdtfgw/ccviz/internal/journal"
	"github.com/tungdtfgw/ccviz/internal/logging"
	"github.com/tungdtfgw/ccviz/internal/relay"
	"github.com/tungdtfgw/ccviz/internal/telemetry"
)

const (
	shutdownTimeout = 5 * time.Second
	metricsInterval = 15 * time.Second
)

var (
	configPath string
	cfg        config.Config
	log        = zap.NewNop()
	syncLog    = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "ccviz",
	Short: "Relay coding-agent hook events to bar visualizations",
	Long: `ccviz receives lifecycle events from coding-agent hooks over HTTP, keeps
the authoritative state of the bar (which session sits at which table, its
sub-agents and context usage) and streams every change to connected clients.

Commands:
  serve   Run the relay
  emit    Post one hook event to a running relay
  watch   Terminal view of a running relay`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = syncLog()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket relay",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (default $CCVIZ_CONFIG)")
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(opts logging.Options) error {
	l, sync, err := logging.New(opts)
	if err != nil {
		return err
	}
	log, syncLog = l, sync
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := setupLogging(logging.Options{Level: cfg.Logging.Level, Dev: cfg.Logging.Dev, File: cfg.Logging.File}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mp, shutdownMetrics, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, metricsInterval)
	if err != nil {
		return err
	}
	metrics, err := telemetry.New(mp)
	if err != nil {
		log.Warn("metrics disabled", zap.Error(err))
		metrics = telemetry.Nop()
	}

	store, err := journal.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return multierr.Append(err, shutdownMetrics(context.Background()))
	}
	var jw *journal.Writer
	if store != nil {
		jw = journal.NewWriter(store, cfg.Journal.Buffer, log)
		log.Info("journal enabled", zap.String("driver", cfg.Journal.Driver))
	}

	state := engine.NewManager(engine.WithLogger(log))
	handler := events.NewHandler(state, log, metrics)
	r := relay.New(ctx, state, handler,
		relay.WithLogger(log),
		relay.WithJournal(jw),
		relay.WithMetrics(metrics),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.SetupRoutes(httpapi.Deps{Relay: r, Journal: jw, Log: log}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Closing the relay ends every websocket; the journal flushes after the
	// last broadcast.
	r.Close()
	return multierr.Combine(err, jw.Close(), shutdownMetrics(context.Background()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
