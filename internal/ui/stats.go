package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/telemetry"
)

// StatsInfo is the data shown by `agentmem stats`.
type StatsInfo struct {
	DataDir        string    `json:"data_dir"`
	Memories       int       `json:"memories"`
	LexicalBackend string    `json:"lexical_backend"`
	StorageBytes   int64     `json:"storage_bytes"`
	LastUpdated    time.Time `json:"last_updated"`

	// Persisted query telemetry over the reporting window.
	Days              int                               `json:"days"`
	QueryTypeCounts   map[retrieval.QueryType]int64     `json:"query_type_counts"`
	LatencyCounts     map[telemetry.LatencyBucket]int64 `json:"latency_counts"`
	TopTerms          []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries []string                          `json:"zero_result_queries"`
}

// TotalQueries sums QueryTypeCounts.
func (s StatsInfo) TotalQueries() int64 {
	var total int64
	for _, n := range s.QueryTypeCounts {
		total += n
	}
	return total
}

// Stats renders memory and telemetry statistics.
func (r *Renderer) Stats(info StatsInfo) error {
	if r.JSON() {
		return writeJSON(r.out, info)
	}

	s := r.styles
	_, _ = fmt.Fprintf(r.out, "%s\n\n", s.Header.Render("Memory Store: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Memories:     %d\n", info.Memories)
	_, _ = fmt.Fprintf(r.out, "  Lexical:      %s\n", info.LexicalBackend)
	_, _ = fmt.Fprintf(r.out, "  Storage:      %s\n", FormatBytes(info.StorageBytes))
	if !info.LastUpdated.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last updated: %s\n", formatTime(info.LastUpdated))
	}
	_, _ = fmt.Fprintln(r.out)

	total := info.TotalQueries()
	_, _ = fmt.Fprintf(r.out, "  Queries (last %d days): %d\n", info.Days, total)
	if total == 0 {
		_, _ = fmt.Fprintf(r.out, "    %s\n", s.Dim.Render("no queries recorded"))
		return nil
	}
	for _, qt := range retrieval.AllQueryTypes {
		n := info.QueryTypeCounts[qt]
		_, _ = fmt.Fprintf(r.out, "    %-18s %6d  %s\n", qt, n, s.Bar.Render(Bar(n, total, 20)))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Latency:")
	var maxBucket int64
	for _, n := range info.LatencyCounts {
		maxBucket = max(maxBucket, n)
	}
	for _, b := range telemetry.AllBuckets {
		n := info.LatencyCounts[b]
		_, _ = fmt.Fprintf(r.out, "    %-18s %6d  %s\n", bucketLabel(b), n, s.Bar.Render(Bar(n, maxBucket, 20)))
	}

	if len(info.TopTerms) > 0 {
		_, _ = fmt.Fprintln(r.out)
		terms := make([]string, 0, len(info.TopTerms))
		for _, tc := range info.TopTerms {
			terms = append(terms, fmt.Sprintf("%s (%d)", tc.Term, tc.Count))
		}
		_, _ = fmt.Fprintf(r.out, "  Top terms: %s\n", strings.Join(terms, ", "))
	}

	if len(info.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Recent zero-result queries:")
		for _, q := range info.ZeroResultQueries {
			_, _ = fmt.Fprintf(r.out, "    %s\n", s.Warning.Render(q))
		}
	}

	return nil
}

func bucketLabel(b telemetry.LatencyBucket) string {
	switch b {
	case telemetry.BucketP10:
		return "< 10ms"
	case telemetry.BucketP50:
		return "10-50ms"
	case telemetry.BucketP100:
		return "50-100ms"
	case telemetry.BucketP500:
		return "100-500ms"
	default:
		return "> 500ms"
	}
}

// barChars are eighth-width blocks from empty to full.
var barChars = []rune{' ', '▏', '▎', '▍', '▌', '▋', '▊', '▉', '█'}

// Bar renders n out of total as a horizontal bar of the given width.
func Bar(n, total int64, width int) string {
	if total <= 0 || n <= 0 || width <= 0 {
		return ""
	}
	if n > total {
		n = total
	}

	eighths := int(n * int64(width) * 8 / total)
	if eighths == 0 {
		eighths = 1
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(string(barChars[8]), eighths/8))
	if rem := eighths % 8; rem > 0 {
		sb.WriteRune(barChars[rem])
	}
	return sb.String()
}

// formatDuration prints sub-second durations in milliseconds.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return d.Round(10 * time.Millisecond).String()
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

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

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
