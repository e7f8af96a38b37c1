package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatMinutes renders a minute count as "3h 05m" or "42m".
func FormatMinutes(m int64) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", m/60, m%60)
}

// Subject returns the mail subject line for s.
func (s *Summary) Subject(prefix string) string {
	kind, period := "Weekly", s.From+" to "+s.To
	if s.Daily() {
		kind, period = "Daily", s.From
	}
	subject := fmt.Sprintf("%s usage for %s, %s", kind, s.ComputerID, period)
	if prefix != "" {
		subject = prefix + " " + subject
	}
	return subject
}

// WriteText renders s as plain text tables.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Computer: %s\n", s.ComputerID)
	if s.UserID != "" {
		fmt.Fprintf(&b, "User:     %s\n", s.UserID)
	}
	if s.Daily() {
		fmt.Fprintf(&b, "Date:     %s\n", s.From)
	} else {
		fmt.Fprintf(&b, "Period:   %s to %s (%s with activity)\n", s.From, s.To, plural(s.Days, "day"))
	}
	fmt.Fprintf(&b, "\nActive %s, idle %s across %s (%s)\n\n",
		FormatMinutes(s.ActiveMinutes), FormatMinutes(s.IdleMinutes),
		plural(s.Sessions, "session"), FormatMinutes(s.SessionMinutes))

	apps := table.NewWriter()
	apps.SetTitle("Applications")
	apps.AppendHeader(table.Row{"Process", "Time", "Minutes", "First seen", "Last seen"})
	for _, app := range s.Applications {
		apps.AppendRow(table.Row{
			app.ProcessName,
			FormatMinutes(app.Minutes),
			humanize.Comma(app.Minutes),
			app.FirstSeen.Format("15:04"),
			app.LastSeen.Format("15:04"),
		})
	}
	apps.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	b.WriteString(apps.Render())
	b.WriteString("\n\n")

	sites := table.NewWriter()
	sites.SetTitle("Websites")
	sites.AppendHeader(table.Row{"Domain", "Time", "Minutes", "Last title"})
	for _, site := range s.Websites {
		sites.AppendRow(table.Row{
			site.Domain,
			FormatMinutes(site.Minutes),
			humanize.Comma(site.Minutes),
			text.Trim(site.SampleTitle, 60),
		})
	}
	sites.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	b.WriteString(sites.Render())
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
