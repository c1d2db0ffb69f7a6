package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
)

var onceFlag bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the execution worker",
	Long: `Poll the job queue and execute submissions in the Docker sandbox.

Each poll receives up to worker.batch_size jobs and runs them concurrently.
SIGINT or SIGTERM stops polling once the current batch has finished.

Examples:
  crucible worker
  crucible worker --once`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&onceFlag, "once", false, "Process a single batch and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, configFlag, "")
	if err != nil {
		return err
	}
	defer a.Close()

	w := a.NewWorker()
	if !onceFlag {
		return w.Run(ctx)
	}

	msgs, err := a.Queue.Receive(ctx, a.Config.Worker.BatchSize, a.Config.Worker.WaitTime)
	if err != nil {
		return fmt.Errorf("receiving jobs: %w", err)
	}
	w.ProcessBatch(ctx, msgs)
	fmt.Printf("Processed %d job(s).\n", len(msgs))
	return nil
}
