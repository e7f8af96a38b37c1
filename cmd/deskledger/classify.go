package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/domain"
	"github.com/goodtune/deskledger/internal/usage"
	"github.com/spf13/cobra"
)

var classifyProcess string

var classifyCmd = &cobra.Command{
	Use:   "classify [flags] TITLE",
	Short: "Show how a window title is attributed",
	Long:  `Show the process name and website domain deskledger would record for a foreground window.`,
	Example: `  deskledger classify --process chrome.exe "Inbox (3) - mail.google.com - Google Chrome"
  deskledger classify --process firefox "YouTube - Mozilla Firefox"`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyProcess, "process", "chrome.exe", "Foreground process name")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	normalizer, err := domain.NewNormalizer(1)
	if err != nil {
		return err
	}

	title := args[0]
	process := usage.CanonicalProcess(classifyProcess)
	processes := usage.NewProcessTracker(cfg.Tracking.ExcludedProcesses)
	sites := usage.NewSiteTracker(cfg.Tracking.Browsers, normalizer, cfg.Tracking.TitleMaxLength)

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	_, _ = cyan.Println("Window")
	fmt.Fprintf(os.Stdout, "  Process: %s\n", process)
	fmt.Fprintf(os.Stdout, "  Title:   %s\n", title)

	_, _ = cyan.Println("\nAttribution")
	if processes.Excluded(process) {
		_, _ = yellow.Printf("  Application: excluded (%s)\n", process)
		return nil
	}
	fmt.Fprintf(os.Stdout, "  Application: %s\n", process)

	switch {
	case !sites.IsBrowser(process):
		_, _ = yellow.Println("  Website:     not recorded (not a browser)")
	case strings.TrimSpace(title) == "":
		_, _ = yellow.Println("  Website:     not recorded (blank title)")
	default:
		site := sites.Record(time.Now(), time.Second, process, title)
		_, _ = green.Printf("  Website:     %s\n", site)
	}
	return nil
}
