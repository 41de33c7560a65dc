package retrieval

import "sync"

// Feedback bands for the historical adjustment.
const (
	LowScoreAverage  = 0.3
	HighScoreAverage = 0.7
	FeedbackStep     = 0.05

	DefaultFeedbackWindow = 100
)

// TypeStats is the feedback state of one query type.
type TypeStats struct {
	AvgScore   float64 `json:"avg_score"`
	Samples    int     `json:"samples"`
	Adjustment float64 `json:"adjustment"`
}

// HistoricalStats tracks the mean result score per query type. All access
// is non-blocking: readers and writers that find the lock held give up.
type HistoricalStats struct {
	mu     sync.RWMutex
	byType map[QueryType]TypeStats
	window int
}

// NewHistoricalStats creates empty stats. window caps the sample count used
// in the running mean, which turns it into an exponential moving average
// once the window is full. Non-positive means DefaultFeedbackWindow.
func NewHistoricalStats(window int) *HistoricalStats {
	if window <= 0 {
		window = DefaultFeedbackWindow
	}
	return &HistoricalStats{
		byType: make(map[QueryType]TypeStats),
		window: window,
	}
}

// Adjustment returns the threshold adjustment for qt, or 0 if the type has
// no history or the stats are being written.
func (h *HistoricalStats) Adjustment(qt QueryType) float64 {
	if !h.mu.TryRLock() {
		return 0
	}
	defer h.mu.RUnlock()
	return h.byType[qt].Adjustment
}

// Record folds score into qt's running mean:
//
//	new_avg = (old_avg*n + score) / (n+1)
//
// It reports false when the update was dropped because of contention.
func (h *HistoricalStats) Record(qt QueryType, score float64) bool {
	if !h.mu.TryLock() {
		return false
	}
	defer h.mu.Unlock()

	s := h.byType[qt]
	n := float64(s.Samples)
	s.AvgScore = (s.AvgScore*n + score) / (n + 1)
	if s.Samples < h.window {
		s.Samples++
	}
	s.Adjustment = adjustmentFor(s.AvgScore)
	h.byType[qt] = s
	return true
}

// adjustmentFor maps a mean score onto the three-step adjustment: low
// averages loosen the threshold and high averages tighten it.
func adjustmentFor(avg float64) float64 {
	switch {
	case avg < LowScoreAverage:
		return -FeedbackStep
	case avg > HighScoreAverage:
		return FeedbackStep
	default:
		return 0
	}
}

// Reset drops all history. Unlike Record it waits for the lock; it is an
// administrative operation, not part of the search path.
func (h *HistoricalStats) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byType = make(map[QueryType]TypeStats)
}

// Snapshot copies the current per-type state.
func (h *HistoricalStats) Snapshot() map[QueryType]TypeStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[QueryType]TypeStats, len(h.byType))
	for qt, s := range h.byType {
		out[qt] = s
	}
	return out
}
