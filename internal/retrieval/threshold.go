package retrieval

import "math"

// Special rule names reported in ThresholdBreakdown.SpecialRules.
const (
	RuleNumericQuery    = "numeric_query"
	RuleExactOrTemporal = "exact_or_temporal"
	RuleShortUppercase  = "short_uppercase"
	RuleSingleWord      = "single_word"
	RuleSemanticFloor   = "semantic_floor"
)

// Special rule constants.
const (
	ShortUppercaseMaxLength = 10
	ShortUppercasePenalty   = 0.2
	SingleWordPenalty       = 0.15
	SemanticFloor           = 0.4
)

// ThresholdConfig tunes the adaptive threshold.
type ThresholdConfig struct {
	// BaseThresholds is the starting cutoff per query type. Missing types
	// fall back to DefaultStrategy(qt).Threshold.
	BaseThresholds map[QueryType]float64 `json:"base_thresholds"`

	// LengthFactor scales the length step adjustment.
	LengthFactor float64 `json:"length_factor"`

	// ComplexityFactor scales (complexity - 0.5).
	ComplexityFactor float64 `json:"complexity_factor"`

	MinThreshold float64 `json:"min_threshold"`
	MaxThreshold float64 `json:"max_threshold"`

	EnableHistoricalLearning bool `json:"enable_historical_learning"`

	// FeedbackWindow caps the sample count of the running mean.
	FeedbackWindow int `json:"feedback_window"`
}

// DefaultThresholdConfig returns the stock tuning.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		BaseThresholds: map[QueryType]float64{
			QueryTypeExactID:         0.0,
			QueryTypeShortKeyword:    0.1,
			QueryTypeNaturalLanguage: 0.3,
			QueryTypeSemantic:        0.5,
			QueryTypeTemporal:        0.0,
		},
		LengthFactor:             1.0,
		ComplexityFactor:         0.2,
		MinThreshold:             0.0,
		MaxThreshold:             0.9,
		EnableHistoricalLearning: true,
		FeedbackWindow:           DefaultFeedbackWindow,
	}
}

// ThresholdBreakdown exposes every term of a threshold computation.
type ThresholdBreakdown struct {
	QueryType            QueryType `json:"query_type"`
	BaseThreshold        float64   `json:"base_threshold"`
	LengthAdjustment     float64   `json:"length_adjustment"`
	ComplexityScore      float64   `json:"complexity_score"`
	ComplexityAdjustment float64   `json:"complexity_adjustment"`
	HistoricalAdjustment float64   `json:"historical_adjustment"`

	// Combined is the sum of the four terms before special rules.
	Combined float64 `json:"combined"`

	// SpecialRules lists the rule that fired, if any. At most one fires.
	SpecialRules []string `json:"special_rules"`

	// Final is the clamped threshold.
	Final float64 `json:"final"`
}

// ThresholdCalculator turns a classified query into a similarity cutoff.
// It owns the HistoricalStats that RecordFeedback updates.
type ThresholdCalculator struct {
	config  ThresholdConfig
	history *HistoricalStats
}

// NewThresholdCalculator creates a calculator with its own empty history.
func NewThresholdCalculator(config ThresholdConfig) *ThresholdCalculator {
	if config.MaxThreshold < config.MinThreshold {
		config.MaxThreshold = config.MinThreshold
	}
	return &ThresholdCalculator{
		config:  config,
		history: NewHistoricalStats(config.FeedbackWindow),
	}
}

// Config returns the calculator's configuration.
func (c *ThresholdCalculator) Config() ThresholdConfig {
	return c.config
}

// LearningEnabled reports whether search outcomes should be fed back.
func (c *ThresholdCalculator) LearningEnabled() bool {
	return c.config.EnableHistoricalLearning
}

// Calculate returns the threshold for query, always within
// [MinThreshold, MaxThreshold].
func (c *ThresholdCalculator) Calculate(query string, qt QueryType, f QueryFeatures) float64 {
	return c.CalculateWithDetails(query, qt, f).Final
}

// CalculateWithDetails is Calculate plus every intermediate term.
func (c *ThresholdCalculator) CalculateWithDetails(query string, qt QueryType, f QueryFeatures) ThresholdBreakdown {
	b := ThresholdBreakdown{
		QueryType:        qt,
		BaseThreshold:    c.base(qt),
		LengthAdjustment: lengthStep(f.Length) * c.config.LengthFactor,
		ComplexityScore:  complexity(f),
		SpecialRules:     []string{},
	}
	b.ComplexityAdjustment = (b.ComplexityScore - 0.5) * c.config.ComplexityFactor
	if c.config.EnableHistoricalLearning {
		b.HistoricalAdjustment = c.history.Adjustment(qt)
	}
	b.Combined = b.BaseThreshold + b.LengthAdjustment + b.ComplexityAdjustment + b.HistoricalAdjustment

	t := b.Combined
	switch {
	case isDigitsOrSpace(query):
		t = 0
		b.SpecialRules = append(b.SpecialRules, RuleNumericQuery)
	case qt == QueryTypeExactID || qt == QueryTypeTemporal:
		t = 0
		b.SpecialRules = append(b.SpecialRules, RuleExactOrTemporal)
	case f.IsUppercase && f.Length <= ShortUppercaseMaxLength:
		t -= ShortUppercasePenalty
		b.SpecialRules = append(b.SpecialRules, RuleShortUppercase)
	case f.WordCount == 1:
		t -= SingleWordPenalty
		b.SpecialRules = append(b.SpecialRules, RuleSingleWord)
	case qt == QueryTypeSemantic:
		t = math.Max(t, SemanticFloor)
		b.SpecialRules = append(b.SpecialRules, RuleSemanticFloor)
	}

	b.Final = clamp(t, c.config.MinThreshold, c.config.MaxThreshold)
	return b
}

// RecordFeedback feeds an observed mean result score back into qt's
// history. Dropped silently when learning is off or the stats are busy.
func (c *ThresholdCalculator) RecordFeedback(qt QueryType, score float64) {
	if !c.config.EnableHistoricalLearning {
		return
	}
	c.history.Record(qt, score)
}

// ResetStats clears all feedback history.
func (c *ThresholdCalculator) ResetStats() {
	c.history.Reset()
}

// Stats returns a copy of the per-type feedback state.
func (c *ThresholdCalculator) Stats() map[QueryType]TypeStats {
	return c.history.Snapshot()
}

func (c *ThresholdCalculator) base(qt QueryType) float64 {
	if v, ok := c.config.BaseThresholds[qt]; ok {
		return v
	}
	return DefaultStrategy(qt).Threshold
}

// lengthStep is the unscaled length adjustment for a rune count.
func lengthStep(length int) float64 {
	switch {
	case length < 5:
		return -0.2
	case length < 10:
		return -0.1
	case length < 50:
		return 0
	case length < 100:
		return 0.05
	default:
		return 0.1
	}
}

// complexity scores a query in [0,1]: word count contributes up to 0.4,
// special characters, question form and mixed language 0.2 each.
func complexity(f QueryFeatures) float64 {
	score := math.Min(float64(f.WordCount)/10, 1) * 0.4
	if f.HasSpecialChars {
		score += 0.2
	}
	if f.IsQuestion {
		score += 0.2
	}
	if f.Language == LanguageMixed {
		score += 0.2
	}
	return math.Min(score, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
