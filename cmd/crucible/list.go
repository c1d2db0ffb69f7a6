package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/storage"
)

var (
	statusFilter string
	limitFlag    int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent submissions",
	RunE:    runList,
}

func init() {
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, running, completed, error)")
	listCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max submissions to show")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := app.Open(ctx, configFlag, "")
	if err != nil {
		return err
	}
	defer a.Close()

	subs, err := a.Service.List(ctx, storage.ListOptions{
		Status: storage.Status(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Println("No submissions found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-12s %-12s %-40s %s\n", "ID", "STATUS", "LANGUAGE", "ERROR", "CREATED")
	fmt.Println(strings.Repeat("─", 90))

	for _, s := range subs {
		errText := ""
		if s.ErrorMessage != nil {
			errText = truncate(strings.ReplaceAll(*s.ErrorMessage, "\n", " "), 38)
		}
		fmt.Printf("%-10s %-12s %-12s %-40s %s\n",
			shortID(s.ID), s.Status, s.Language, errText, timeAgo(s.CreatedAt))
	}

	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
