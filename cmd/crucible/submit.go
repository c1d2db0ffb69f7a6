package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/lang"
	"github.com/michaelbrown/crucible/internal/submission"
)

var (
	languageFlag string
	waitFlag     bool
	outputFlag   string
	intervalFlag time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a source file for execution",
	Long: `Submit a source file for sandboxed execution.

The language is inferred from the file extension unless --language is set.

Examples:
  crucible submit hello.py
  crucible submit Main.java --wait
  crucible submit script.txt --language javascript`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Show a submission's status and output",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	submitCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language (javascript, python, java)")
	submitCmd.Flags().BoolVar(&waitFlag, "wait", false, "Wait for the result")
	submitCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json or yaml")

	statusCmd.Flags().BoolVar(&waitFlag, "wait", false, "Wait until the submission finishes")
	statusCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json or yaml")

	for _, c := range []*cobra.Command{submitCmd, statusCmd} {
		c.Flags().DurationVar(&intervalFlag, "interval", time.Second, "Polling interval with --wait")
		rootCmd.AddCommand(c)
	}
}

// languageForFile matches a file extension against the registered languages.
func languageForFile(reg *lang.Registry, path string) (string, error) {
	ext := filepath.Ext(path)
	for _, name := range reg.Names() {
		s, err := reg.Lookup(name)
		if err == nil && s.Extension() == ext {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot infer language from %q, use --language", path)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	a, err := app.Open(ctx, configFlag, "")
	if err != nil {
		return err
	}
	defer a.Close()

	language := languageFlag
	if language == "" {
		if language, err = languageForFile(a.Languages, args[0]); err != nil {
			return err
		}
	}

	sub, err := a.Service.Submit(ctx, language, string(code))
	if err != nil {
		return err
	}
	if !waitFlag {
		fmt.Printf("Submitted %s (%s)\n", sub.ID, sub.Language)
		return nil
	}
	return printStatus(ctx, a.Service, sub.ID, true)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Open(ctx, configFlag, "")
	if err != nil {
		return err
	}
	defer a.Close()

	return printStatus(ctx, a.Service, args[0], waitFlag)
}

func printStatus(ctx context.Context, svc *submission.Service, id string, wait bool) error {
	var (
		view *submission.StatusView
		err  error
	)
	if wait {
		view, err = svc.Wait(ctx, id, intervalFlag)
	} else {
		view, err = svc.Status(ctx, id)
	}
	if err != nil {
		return err
	}

	out, err := submission.Render(view, outputFlag)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
