package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/report"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	showDate     string
	showComputer string
	showList     bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a stored day ledger",
	Long:  `Print the sessions, application minutes and website minutes recorded for one day.`,
	Example: `  deskledger show
  deskledger show --date 2024-01-15
  deskledger show --list`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showDate, "date", "", "Ledger date (YYYY-MM-DD) - defaults to today")
	showCmd.Flags().StringVar(&showComputer, "computer", "", "Computer ID - defaults to the configured identity")
	showCmd.Flags().BoolVar(&showList, "list", false, "List the dates with a stored ledger")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	computerID := cfg.Identity.ComputerID
	if showComputer != "" {
		computerID = showComputer
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if showList {
		dates, err := store.Ledgers().ListDates(ctx, computerID)
		if err != nil {
			return fmt.Errorf("failed to list ledgers: %w", err)
		}
		for _, date := range dates {
			fmt.Fprintln(os.Stdout, date)
		}
		return nil
	}

	date := time.Now().Format(storage.DateLayout)
	if showDate != "" {
		if _, err := time.Parse(storage.DateLayout, showDate); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", showDate)
		}
		date = showDate
	}

	l, err := store.Ledgers().Load(ctx, date, computerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		color.New(color.FgYellow).Fprintf(os.Stdout, "No ledger recorded for %s on %s\n", computerID, date)
		return nil
	case errors.Is(err, storage.ErrCorrupt):
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "❌ Ledger for %s on %s is corrupt: %v\n", computerID, date, err)
		return err
	case err != nil:
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	printSessions(l)

	summary := report.Summarize(l)
	summary.ComputerID = computerID
	summary.From, summary.To = date, date
	return summary.WriteText(os.Stdout)
}

func printSessions(l *storage.DayLedger) {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("%s (%s)\n", l.Date, humanize.Time(dayStart(l.Date)))

	t := table.NewWriter()
	t.SetTitle("Sessions")
	t.AppendHeader(table.Row{"Session", "Start", "End", "Total", "Active", "Idle"})
	for _, s := range l.Sessions {
		t.AppendRow(table.Row{
			shortID(s.ID),
			s.Start.Local().Format("15:04:05"),
			s.End.Local().Format("15:04:05"),
			report.FormatMinutes(s.TotalMinutes()),
			report.FormatMinutes(s.ActiveMinutes),
			report.FormatMinutes(s.IdleMinutes),
		})
	}
	fmt.Fprintln(os.Stdout, t.Render())
	fmt.Fprintln(os.Stdout)
}

func dayStart(date string) time.Time {
	d, err := time.ParseInLocation(storage.DateLayout, date, time.Local)
	if err != nil {
		return time.Now()
	}
	return d
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
