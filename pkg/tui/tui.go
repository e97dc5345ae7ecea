// Package tui renders mining progress and summaries for the terminal.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/seqmine/pkg/count"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/pipeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Header prints the program banner.
func Header(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  SEQMINE")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Temporal sequence mining over interval events"))
	fmt.Fprintln(w)
}

// PrintReport prints the outcome of a run, one block per series.
func PrintReport(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintln(w)
	if len(rep.Failures) == 0 {
		fmt.Fprintln(w, successStyle.Render("  ✓ MINING COMPLETE"))
	} else {
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("  ✗ MINING COMPLETE WITH %d FAILED SERIES", len(rep.Failures))))
	}
	for _, res := range rep.Results {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		PrintResult(w, res)
	}
	for _, f := range rep.Failures {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		fmt.Fprintf(w, "  %s %s\n", accentStyle.Render(f.Series), mutedStyle.Render(f.Err.Error()))
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Time:"),
		titleStyle.Render(formatDuration(rep.Duration())),
		mutedStyle.Render(fmt.Sprintf("(%s samples/sec)", formatNumber(int64(rate(rep.Samples(), rep.Duration()))))))
	fmt.Fprintln(w)
}

// PrintResult prints one series.
func PrintResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "  %s\n", titleStyle.Render(res.Series))
	line(w, "Samples:", formatNumber(int64(res.Samples)))
	line(w, "Events:", formatNumber(int64(res.Events)))
	attached := make([]string, len(res.Generations))
	for i, g := range res.Generations {
		attached[i] = fmt.Sprint(g.Attached)
	}
	if len(attached) > 0 {
		line(w, "Attached:", strings.Join(attached, " → "))
	}
	if res.Forest != nil {
		line(w, "Forest:", formatNumber(int64(res.Forest.ForestSize()))+" nodes")
	}
	if res.Graph != nil {
		s := res.Graph.Stats()
		line(w, "Types:", fmt.Sprintf("%d (%d leaves, depth %d)", s.Types, s.Leaves, s.MaxDepth))
	}
	if len(res.Prune) > 0 {
		line(w, "Pruned:", fmt.Sprintf("%d nodes in %d passes", res.Removed(), len(res.Prune)))
	}
	if res.TypesPath != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Output:"), codeStyle.Render(res.TypesPath))
	}
}

// PrintVariants lists the root-to-leaf patterns of g, most frequent first,
// up to limit entries (all when limit <= 0).
func PrintVariants(w io.Writer, g *count.Graph, limit int) {
	vs := g.Variants()
	if limit > 0 && len(vs) > limit {
		vs = vs[:limit]
	}
	width := 0
	for _, v := range vs {
		width = max(width, len(fmt.Sprint(v.Count)))
	}
	for _, v := range vs {
		fmt.Fprintf(w, "  %s  %s\n", accentStyle.Render(fmt.Sprintf("%*d", width, v.Count)), v.String())
	}
}

func line(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-9s", label)), value)
}

// GrowthProgress returns a bar advanced once per generation of every series.
func GrowthProgress(w io.Writer, series, generations int) (*progressbar.ProgressBar, pipeline.GenerationFunc) {
	bar := progressbar.NewOptions64(int64(series*generations),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("growing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return bar, func(string, int, growth.Stats) {
		bar.Add(1)
	}
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
