package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/state"
)

// maxFailedShown bounds the failed files listed by Render.
const maxFailedShown = 10

// StatusRenderer displays ingestion status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render displays status to the terminal.
func (r *StatusRenderer) Render(st *search.Status) error {
	sum := st.Summary
	_, _ = fmt.Fprintf(r.out, "%s  %s\n\n", r.styles.Header.Render("Memory Status"), r.renderPhase(sum))

	_, _ = fmt.Fprintf(r.out, "  %s %5.1f%%\n", r.styles.Bar.Render(Bar(sum.PercentComplete, 30)), sum.PercentComplete)
	_, _ = fmt.Fprintf(r.out, "  Files:     %d (%d completed, %d pending, %d failed)\n",
		sum.TotalFiles, sum.Completed, sum.Pending, sum.Failed)
	if sum.Retrying > 0 {
		_, _ = fmt.Fprintf(r.out, "  Retrying:  %d\n", sum.Retrying)
	}
	_, _ = fmt.Fprintf(r.out, "  Chunks:    %d\n", sum.TotalChunks)
	_, _ = fmt.Fprintf(r.out, "  Mode:      %s\n", st.Mode)
	if !sum.LastModified.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Updated:   %s\n", formatAgo(sum.LastModified, r.now()))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(sum.Lanes) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Lanes:")
		for _, l := range sum.Lanes {
			_, _ = fmt.Fprintf(r.out, "    %-5s %s  files %-6d failed %-4d chunks %-7d last run %s\n",
				l.Lane, r.renderRunning(l.Running), l.FilesProcessed, l.FilesFailed, l.ChunksImported, formatAgo(l.LastRun, r.now()))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if len(st.Vectors) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Collections:")
		for _, c := range st.Vectors {
			_, _ = fmt.Fprintf(r.out, "    %-28s %5d dims %8d points\n", c.Name, c.Dimensions, c.Points)
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if len(sum.FailedFiles) > 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Warning.Render(fmt.Sprintf("  Needs attention (%d):", len(sum.FailedFiles))))
		for i, f := range sum.FailedFiles {
			if i == maxFailedShown {
				_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render(fmt.Sprintf("... and %d more", len(sum.FailedFiles)-maxFailedShown)))
				break
			}
			_, _ = fmt.Fprintf(r.out, "    %s %s %s\n", f.Path,
				r.styles.Label.Render(fmt.Sprintf("(attempts %d)", f.RetryCount)),
				r.styles.Error.Render(f.Error))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if t := st.Telemetry; t != nil && t.TotalQueries > 0 {
		_, _ = fmt.Fprintf(r.out, "  Searches:  %d (%.0f%% without results)\n", t.TotalQueries, t.ZeroResultPercentage())
	}
	return nil
}

// RenderJSON outputs v as indented JSON.
func (r *StatusRenderer) RenderJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// renderPhase labels the summary phase, with the failure count when files
// need attention.
func (r *StatusRenderer) renderPhase(sum state.Summary) string {
	switch sum.Phase {
	case state.PhaseComplete:
		return r.styles.Success.Render("complete")
	case state.PhaseCompleteWithAttention:
		return r.styles.Warning.Render(fmt.Sprintf("complete, %d files need attention", sum.Failed))
	default:
		return r.styles.Label.Render("in progress")
	}
}

func (r *StatusRenderer) renderRunning(running bool) string {
	if running {
		return r.styles.Success.Render("running")
	}
	return r.styles.Dim.Render("idle   ")
}

// formatAgo formats t relative to now.
func formatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
