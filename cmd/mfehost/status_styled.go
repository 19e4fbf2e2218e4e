package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"mfehost/pkg/federation"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	primaryColor = lipgloss.Color("#FF79C6") // Pink
	accentColor  = lipgloss.Color("#50FA7B") // Green
	warningColor = lipgloss.Color("#FFB86C") // Orange
	dangerColor  = lipgloss.Color("#FF5555") // Red
	mutedColor   = lipgloss.Color("#6272A4")
	bgLightColor = lipgloss.Color("#44475A")
	fgColor      = lipgloss.Color("#F8F8F2")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD")).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

type statusReport struct {
	Status  string                    `json:"status"`
	Uptime  string                    `json:"uptime"`
	Remotes []federation.RemoteStatus `json:"remotes"`
}

func statusCmd() *cobra.Command {
	var (
		hostURL string
		local   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show remote container status",
		Long: `Show the load state of every remote. By default the running host is
queried through /health; with --local the remotes are loaded directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var (
				report *statusReport
				err    error
			)
			if local {
				report, err = localStatus(ctx, logger)
			} else {
				report, err = fetchStatus(ctx, hostURL)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				fmt.Fprintln(out, renderStyledStatus(report))
				return nil
			}
			return renderPlainStatus(out, report)
		},
	}

	cmd.Flags().StringVar(&hostURL, "host", "http://localhost:5000", "base URL of a running host")
	cmd.Flags().BoolVar(&local, "local", false, "load the configured remotes instead of asking a host")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, hostURL string) (*statusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(hostURL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &federation.StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &report, nil
}

// localStatus loads every configured remote concurrently and reports the
// result.
func localStatus(ctx context.Context, logger *zap.Logger) (*statusReport, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	loader := newLoader(cfg, prometheus.NewRegistry(), logger)
	defer loader.Close()

	done := make(chan struct{})
	remotes := loader.Remotes()
	for _, name := range remotes {
		go func() {
			loader.LoadRemote(ctx, name)
			done <- struct{}{}
		}()
	}
	for range remotes {
		<-done
	}

	report := &statusReport{Status: "healthy", Remotes: loader.Snapshot()}
	for _, rs := range report.Remotes {
		if rs.State != federation.StateReady {
			report.Status = "degraded"
		}
	}
	return report, nil
}

func stateColor(s federation.LoadState) lipgloss.Color {
	switch s {
	case federation.StateReady:
		return accentColor
	case federation.StateFailed:
		return dangerColor
	case federation.StateLoading:
		return warningColor
	default:
		return mutedColor
	}
}

func sharedSummary(shared map[string]string) string {
	if len(shared) == 0 {
		return "-"
	}
	names := make([]string, 0, len(shared))
	for name := range shared {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"@"+shared[name])
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderStyledStatus(report *statusReport) string {
	var content strings.Builder

	content.WriteString(titleStyle.Render("Remote Containers"))
	content.WriteString("\n")
	if report.Uptime != "" {
		content.WriteString(mutedStyle.Render(fmt.Sprintf("host %s, up %s", report.Status, report.Uptime)))
	} else {
		content.WriteString(mutedStyle.Render("host " + report.Status))
	}
	content.WriteString("\n\n")

	if len(report.Remotes) == 0 {
		content.WriteString(mutedStyle.Render("No remotes configured"))
		return content.String()
	}

	states := make([]federation.LoadState, 0, len(report.Remotes))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(states) {
				return rowStyle.Foreground(stateColor(states[row])).Bold(true)
			}
			return rowStyle.Foreground(fgColor)
		})

	t.Headers("REMOTE", "STATE", "ENTRY", "EXPOSES", "SHARED", "ERROR")
	for _, rs := range report.Remotes {
		states = append(states, rs.State)
		t.Row(
			rs.Name,
			strings.ToUpper(rs.State.String()),
			rs.EntryURL,
			orDash(strings.Join(rs.Exposes, ", ")),
			sharedSummary(rs.Shared),
			orDash(rs.Error),
		)
	}

	content.WriteString(t.Render())
	return content.String()
}

func renderPlainStatus(out io.Writer, report *statusReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "HOST\t%s\n\n", report.Status)
	fmt.Fprintln(w, "REMOTE\tSTATE\tENTRY\tEXPOSES\tSHARED\tERROR")
	for _, rs := range report.Remotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rs.Name,
			rs.State,
			rs.EntryURL,
			orDash(strings.Join(rs.Exposes, ",")),
			sharedSummary(rs.Shared),
			orDash(rs.Error))
	}
	return w.Flush()
}
