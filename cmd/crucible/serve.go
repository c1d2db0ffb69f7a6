package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/server"
)

var (
	portFlag        int
	serveWorkerFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Crucible HTTP API",
	Long: `Start the Crucible HTTP server with REST API and WebSocket support.

API endpoints are under /api. /metrics exposes Prometheus text metrics.
With --worker an execution worker runs in the same process, which is
required when queue.driver is memory.

Examples:
  crucible serve
  crucible serve --port 9090 --worker`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveWorkerFlag, "worker", false, "Also run an execution worker in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, configFlag, "")
	if err != nil {
		return err
	}
	defer a.Close()

	// Determine port
	port := a.Config.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(a.Service, a.Metrics, a.Log)

	workerDone := make(chan struct{})
	if serveWorkerFlag {
		w := a.NewWorker()
		go func() {
			defer close(workerDone)
			w.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	err = srv.Start(port)
	stop()
	<-workerDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
