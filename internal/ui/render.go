package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	memerrors "github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/retrieval"
)

// Renderer writes command results in the configured format.
type Renderer struct {
	out    io.Writer
	styles Styles
	format Format
}

// NewRenderer creates a renderer from cfg.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{
		out:    cfg.Output,
		styles: GetStyles(cfg.NoColor),
		format: cfg.Format,
	}
}

// JSON reports whether the renderer writes JSON.
func (r *Renderer) JSON() bool {
	return r.format == FormatJSON
}

// searchJSON is the --format json shape of a search.
type searchJSON struct {
	Query    string                        `json:"query"`
	Results  []retrieval.SearchResult      `json:"results"`
	Type     retrieval.QueryType           `json:"query_type"`
	Strategy retrieval.SearchStrategy      `json:"strategy"`
	Stats    retrieval.SearchStats         `json:"stats"`
	Explain  *retrieval.ThresholdBreakdown `json:"explain,omitempty"`
}

// Search renders a search response. explain is optional and printed after
// the results.
func (r *Renderer) Search(query string, resp *retrieval.SearchResponse, explain *retrieval.ThresholdBreakdown) error {
	if r.JSON() {
		results := resp.Results
		if results == nil {
			results = []retrieval.SearchResult{}
		}
		return writeJSON(r.out, searchJSON{
			Query:    query,
			Results:  results,
			Type:     resp.QueryType,
			Strategy: resp.Strategy,
			Stats:    resp.Stats,
			Explain:  explain,
		})
	}

	s := r.styles
	stats := resp.Stats

	if len(resp.Results) == 0 {
		_, _ = fmt.Fprintf(r.out, "No memories found for %q %s\n",
			query, s.Dim.Render(fmt.Sprintf("(%s, threshold %.3f)", resp.QueryType, stats.ThresholdUsed)))
	} else {
		_, _ = fmt.Fprintf(r.out, "%s\n", s.Header.Render(fmt.Sprintf("Memories for %q", query)))
		_, _ = fmt.Fprintf(r.out, "%s\n\n", s.Dim.Render(searchSummary(resp)))

		for i, res := range resp.Results {
			_, _ = fmt.Fprintf(r.out, "%2d. %s  %s  %s\n",
				i+1,
				s.ID.Render(res.ID),
				s.Score.Render(fmt.Sprintf("%.4f", res.Score)),
				s.Label.Render(resultSources(res, stats.ExactMatchShortCircuit)))
			_, _ = fmt.Fprintf(r.out, "%s\n", s.Content.Render(truncate(res.Content, 240)))
		}
	}

	if explain != nil {
		_, _ = fmt.Fprintln(r.out)
		r.renderBreakdown(*explain)
	}
	return nil
}

// Explain renders a threshold breakdown on its own.
func (r *Renderer) Explain(query string, b retrieval.ThresholdBreakdown) error {
	if r.JSON() {
		return writeJSON(r.out, struct {
			Query string `json:"query"`
			retrieval.ThresholdBreakdown
		}{query, b})
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("Threshold for %q", query)))
	r.renderBreakdown(b)
	return nil
}

func (r *Renderer) renderBreakdown(b retrieval.ThresholdBreakdown) {
	s := r.styles
	row := func(label string, v float64) {
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render(fmt.Sprintf("%-22s", label)), signed(v))
	}

	_, _ = fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render(fmt.Sprintf("%-22s", "Query type:")), b.QueryType)
	_, _ = fmt.Fprintf(r.out, "  %s %.3f\n", s.Label.Render(fmt.Sprintf("%-22s", "Base:")), b.BaseThreshold)
	row("Length:", b.LengthAdjustment)
	_, _ = fmt.Fprintf(r.out, "  %s %.3f\n", s.Label.Render(fmt.Sprintf("%-22s", "Complexity score:")), b.ComplexityScore)
	row("Complexity:", b.ComplexityAdjustment)
	row("Historical:", b.HistoricalAdjustment)
	_, _ = fmt.Fprintf(r.out, "  %s %.3f\n", s.Label.Render(fmt.Sprintf("%-22s", "Combined:")), b.Combined)
	for _, rule := range b.SpecialRules {
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render(fmt.Sprintf("%-22s", "Rule:")), s.Warning.Render(rule))
	}
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render(fmt.Sprintf("%-22s", "Final:")), s.Success.Render(fmt.Sprintf("%.3f", b.Final)))
}

// Added renders the result of adding a memory.
func (r *Renderer) Added(id string, total int) error {
	if r.JSON() {
		return writeJSON(r.out, struct {
			ID    string `json:"id"`
			Total int    `json:"total_memories"`
		}{id, total})
	}
	_, _ = fmt.Fprintf(r.out, "%s %s %s\n",
		r.styles.Success.Render("Added"),
		r.styles.ID.Render(id),
		r.styles.Dim.Render(fmt.Sprintf("(%d memories)", total)))
	return nil
}

// Reindexed renders the result of an index rebuild in JSON mode. Text mode
// leaves the summary to the progress renderer.
func (r *Renderer) Reindexed(count int, elapsed time.Duration) error {
	if !r.JSON() {
		return nil
	}
	return writeJSON(r.out, struct {
		Memories   int   `json:"memories"`
		DurationMs int64 `json:"duration_ms"`
	}{count, elapsed.Milliseconds()})
}

// Error renders err with its code and hint. In JSON mode the structured
// error document is written instead.
func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	if r.JSON() {
		data, jerr := memerrors.FormatJSON(err)
		if jerr == nil {
			_, _ = fmt.Fprintf(r.out, "%s\n", data)
			return
		}
	}

	text := strings.TrimRight(memerrors.FormatForCLI(err), "\n")
	first, rest, _ := strings.Cut(text, "\n")
	_, _ = fmt.Fprintln(r.out, r.styles.Error.Render(first))
	if rest != "" {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render(rest))
	}
}

func searchSummary(resp *retrieval.SearchResponse) string {
	stats := resp.Stats
	noun := "results"
	if len(resp.Results) == 1 {
		noun = "result"
	}
	parts := []string{
		fmt.Sprintf("%d %s", len(resp.Results), noun),
		string(resp.QueryType),
		fmt.Sprintf("threshold %.3f", stats.ThresholdUsed),
		formatDuration(stats.TotalTime),
	}
	if stats.ExactMatchShortCircuit {
		parts = append(parts, "exact match")
	}
	return strings.Join(parts, " · ")
}

// resultSources names the backends that contributed a result.
func resultSources(res retrieval.SearchResult, exact bool) string {
	if exact {
		return "exact"
	}
	var parts []string
	if res.VectorScore != nil {
		parts = append(parts, fmt.Sprintf("vector %.3f", *res.VectorScore))
	}
	if res.FulltextScore != nil {
		parts = append(parts, fmt.Sprintf("bm25 %.3f", *res.FulltextScore))
	}
	return strings.Join(parts, ", ")
}

func signed(v float64) string {
	return fmt.Sprintf("%+.3f", v)
}

// truncate shortens s to max runes, adding an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
