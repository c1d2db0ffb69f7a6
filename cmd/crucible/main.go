package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - sandboxed code execution service",
	Long: `Crucible runs untrusted JavaScript, Python and Java submissions in
throwaway Docker containers.

Submissions are queued, picked up by workers, executed without network
access under tight resource limits, and their output is stored for polling.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./crucible.yaml or ~/.crucible/crucible.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
