package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/report"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reportFrom string
	reportTo   string
	reportWeek bool
	reportSend bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored ledgers",
	Long:  `Summarize the ledgers of a day or a date range and print or mail the result.`,
	Example: `  deskledger report --from 2024-01-15
  deskledger report --week --from 2024-01-17
  deskledger report --from 2024-01-01 --to 2024-01-31 --send`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "First day (YYYY-MM-DD) - defaults to today")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "Last day (YYYY-MM-DD) - defaults to --from")
	reportCmd.Flags().BoolVar(&reportWeek, "week", false, "Report the whole ISO week containing --from")
	reportCmd.Flags().BoolVar(&reportSend, "send", false, "Mail the report through the configured SMTP relay")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	from, to, err := reportPeriod(time.Now())
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if reportSend && (cfg.Report.SMTP.Host == "" || len(cfg.Report.SMTP.To) == 0) {
		return fmt.Errorf("--send requires report.smtp.host and report.smtp.to")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	summary, err := report.Build(ctx, store.Ledgers(), cfg.Identity.ComputerID, from, to)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if !reportSend {
		return summary.WriteText(os.Stdout)
	}

	var body strings.Builder
	if err := summary.WriteText(&body); err != nil {
		return err
	}

	sender := report.NewSMTPSender(cfg.Report.SMTP, quietLogger())
	subject := summary.Subject(cfg.Report.SubjectPrefix)
	if err := sender.Send(ctx, subject, body.String()); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "✅ Sent %q to %s\n", subject, strings.Join(cfg.Report.SMTP.To, ", "))
	return nil
}

func reportPeriod(now time.Time) (time.Time, time.Time, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	if reportFrom != "" {
		d, err := time.ParseInLocation(storage.DateLayout, reportFrom, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: expected YYYY-MM-DD", reportFrom)
		}
		from = d
	}

	if reportWeek {
		monday, sunday := report.WeekBounds(from)
		return monday, sunday, nil
	}

	to := from
	if reportTo != "" {
		d, err := time.ParseInLocation(storage.DateLayout, reportTo, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: expected YYYY-MM-DD", reportTo)
		}
		to = d
	}
	return from, to, nil
}
