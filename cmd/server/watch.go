package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tungdtfgw/ccviz/internal/client"
	"github.com/tungdtfgw/ccviz/internal/logging"
	"github.com/tungdtfgw/ccviz/internal/mirror"
	"github.com/tungdtfgw/ccviz/internal/tui"
)

var watchServer string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Terminal view of a running relay",
	Long: `Connects to a relay's websocket, mirrors the bar and shows one row per
table with context usage, sub-agents and recent activity. Reconnects
automatically; each reconnect resynchronizes from the relay's snapshot.

Logs go only to CCVIZ_LOG_FILE while the view is up.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "relay base URL (default $CCVIZ_SERVER)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// stderr would draw over the alt screen
	if cfg.Logging.File != "" {
		if err := setupLogging(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, Quiet: true}); err != nil {
			return err
		}
	}

	server := watchServer
	if server == "" {
		server = cfg.Client.Server
	}

	bar := mirror.New(
		mirror.WithLogger(log),
		mirror.WithResetHeuristic(mirror.ResetHeuristic{Above: cfg.Mirror.ResetAbove, Below: cfg.Mirror.ResetBelow}),
		mirror.WithOrphanAdoption(cfg.Mirror.AdoptOrphans),
	)

	status := make(chan bool, 8)
	c, err := client.New(server, bar,
		client.WithLogger(log),
		client.WithStatus(func(up bool) {
			select {
			case status <- up:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		// quitting the view stops the client
		defer cancel()
		return tui.Run(gctx, bar, c.URL(), status)
	})
	return g.Wait()
}
