package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// ResultRenderer displays search, recent-activity and timeline output.
type ResultRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewResultRenderer creates a result renderer.
func NewResultRenderer(out io.Writer, noColor bool) *ResultRenderer {
	return &ResultRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// RenderSearch displays a search response in its detail shape.
func (r *ResultRenderer) RenderSearch(resp *search.Response) error {
	header := fmt.Sprintf("%d results for %q", resp.Total, resp.Query)
	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render(header),
		r.styles.Label.Render(fmt.Sprintf("(%s, %d collections, %s)", resp.Mode, len(resp.Collections), resp.Took.Round(time.Millisecond))))
	if len(resp.Dropped) > 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Warning.Render("  skipped: "+strings.Join(resp.Dropped, ", ")))
	}
	_, _ = fmt.Fprintln(r.out)

	switch resp.Detail {
	case search.DetailSummary:
		if resp.Top != nil {
			r.renderResult(1, *resp.Top)
		}
	case search.DetailAggregate:
		for _, g := range resp.Groups {
			_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render(orDash(g.Project)),
				r.styles.Label.Render(fmt.Sprintf("%d hits, best %.3f, latest %s", g.Count, g.TopScore, formatAgo(g.Latest, r.now()))))
			if len(g.Tools) > 0 {
				_, _ = fmt.Fprintf(r.out, "  tools: %s\n", strings.Join(g.Tools, ", "))
			}
			if len(g.Files) > 0 {
				_, _ = fmt.Fprintf(r.out, "  files: %s\n", strings.Join(g.Files, ", "))
			}
			_, _ = fmt.Fprintf(r.out, "  %s\n\n", oneLine(g.Top.Snippet))
		}
	default:
		for i, res := range resp.Results {
			r.renderResult(i+1, res)
		}
	}
	return nil
}

// RenderRecent displays results newest first.
func (r *ResultRenderer) RenderRecent(results []search.Result) error {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Label.Render("No recent activity."))
		return nil
	}
	for i, res := range results {
		r.renderResult(i+1, res)
	}
	return nil
}

// RenderTimeline displays one line per day with a chunk sparkline.
func (r *ResultRenderer) RenderTimeline(tl *search.Timeline) error {
	_, _ = fmt.Fprintf(r.out, "%s %s\n\n", r.styles.Header.Render("Timeline"),
		r.styles.Label.Render(fmt.Sprintf("%s to %s", tl.From.Format("2006-01-02"), tl.To.Format("2006-01-02"))))
	if len(tl.Days) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Label.Render("No activity."))
		return nil
	}

	counts := make([]float64, len(tl.Days))
	for i, d := range tl.Days {
		counts[i] = float64(d.Chunks + d.Notes)
	}
	_, _ = fmt.Fprintf(r.out, "  %s\n\n", r.styles.Bar.Render(Sparkline(counts)))

	for _, d := range tl.Days {
		_, _ = fmt.Fprintf(r.out, "  %s  %3d chunks %4d messages", d.Date, d.Chunks, d.Messages)
		if d.Notes > 0 {
			_, _ = fmt.Fprintf(r.out, " %d notes", d.Notes)
		}
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Label.Render(strings.Join(d.Projects, ", ")))
		if len(d.Tools) > 0 {
			tools := make([]string, len(d.Tools))
			for i, t := range d.Tools {
				tools[i] = fmt.Sprintf("%s×%d", t.Tool, t.Count)
			}
			_, _ = fmt.Fprintf(r.out, "              tools: %s\n", strings.Join(tools, " "))
		}
	}
	return nil
}

func (r *ResultRenderer) renderResult(n int, res search.Result) {
	where := res.Path
	if res.Kind == vector.KindNote {
		where = "note"
		if len(res.Tags) > 0 {
			where += " [" + strings.Join(res.Tags, ", ") + "]"
		}
	}
	_, _ = fmt.Fprintf(r.out, "%2d. %s %s %s\n", n,
		r.styles.Score.Render(fmt.Sprintf("%.3f", res.DecayedScore)),
		orDash(res.Project),
		r.styles.Label.Render(fmt.Sprintf("%s · %s", where, formatAgo(res.Timestamp, r.now()))))
	_, _ = fmt.Fprintf(r.out, "    %s\n", oneLine(res.Snippet))
	if len(res.Tools) > 0 {
		_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render("tools: "+strings.Join(res.Tools, ", ")))
	}
	_, _ = fmt.Fprintln(r.out)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
