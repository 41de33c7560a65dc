package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thresholdFor(c *ThresholdCalculator, q string) (QueryType, float64) {
	f := ExtractFeatures(q)
	qt, _ := NewClassifier(0).Classify(q, f)
	return qt, c.Calculate(q, qt, f)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestThreshold_ExactIDIsZero(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())

	qt, th := thresholdFor(c, "P000001")

	assert.Equal(t, QueryTypeExactID, qt)
	assert.Equal(t, 0.0, th)
}

func TestThreshold_ShortKeywordIsLoose(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())

	qt, th := thresholdFor(c, "Apple")

	assert.Equal(t, QueryTypeShortKeyword, qt)
	assert.Less(t, th, 0.3)
}

func TestThreshold_SemanticIsFloored(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())

	qt, th := thresholdFor(c, "What is the meaning of life, the universe, and everything?")

	assert.Equal(t, QueryTypeSemantic, qt)
	assert.GreaterOrEqual(t, th, 0.4)
}

// =============================================================================
// Properties
// =============================================================================

var propertyQueries = []string{
	"", " ", "P000001", "Apple", "NASA", "12345", "12 34 56",
	"yesterday", "2024-01-15", "pizza toppings",
	"favorite coffee order for Alice",
	"What is the meaning of life, the universe, and everything?",
	"我喜欢什么水果", "Rust 编程 tutorial for beginners",
	"a b c d e f g h i j k l m n o p q r s t u v w x y z a b c d e f g h i j k l m n o p q r s t u v w x y z",
	"user@example.com #tag $$$ %%% ^^^",
}

func TestThreshold_AlwaysWithinBounds(t *testing.T) {
	configs := []ThresholdConfig{DefaultThresholdConfig()}

	tight := DefaultThresholdConfig()
	tight.MinThreshold = 0.2
	tight.MaxThreshold = 0.6
	tight.LengthFactor = 5
	tight.ComplexityFactor = 3
	configs = append(configs, tight)

	for _, cfg := range configs {
		c := NewThresholdCalculator(cfg)
		for _, q := range propertyQueries {
			for _, qt := range AllQueryTypes {
				th := c.Calculate(q, qt, ExtractFeatures(q))
				assert.GreaterOrEqual(t, th, cfg.MinThreshold, "%q as %s", q, qt)
				assert.LessOrEqual(t, th, cfg.MaxThreshold, "%q as %s", q, qt)
			}
		}
	}
}

func TestThreshold_ExactAndTemporalAlwaysZero(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	for _, q := range propertyQueries {
		f := ExtractFeatures(q)
		assert.Equal(t, 0.0, c.Calculate(q, QueryTypeExactID, f), q)
		assert.Equal(t, 0.0, c.Calculate(q, QueryTypeTemporal, f), q)
	}
}

func TestThreshold_DigitsOnlyAlwaysZero(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	for _, q := range []string{"7", "12345", "12 34 56", " 2024 "} {
		for _, qt := range AllQueryTypes {
			assert.Equal(t, 0.0, c.Calculate(q, qt, ExtractFeatures(q)), "%q as %s", q, qt)
		}
	}
}

// =============================================================================
// Breakdown
// =============================================================================

func TestCalculateWithDetails_Terms(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	q := "favorite coffee order for Alice"
	f := ExtractFeatures(q)

	b := c.CalculateWithDetails(q, QueryTypeNaturalLanguage, f)

	// 31 runes, 5 words, no special chars, not a question
	assert.Equal(t, QueryTypeNaturalLanguage, b.QueryType)
	assert.InDelta(t, 0.3, b.BaseThreshold, 1e-9)
	assert.InDelta(t, 0.0, b.LengthAdjustment, 1e-9)
	assert.InDelta(t, 0.2, b.ComplexityScore, 1e-9)
	assert.InDelta(t, (0.2-0.5)*0.2, b.ComplexityAdjustment, 1e-9)
	assert.InDelta(t, 0.0, b.HistoricalAdjustment, 1e-9)
	assert.InDelta(t, 0.24, b.Combined, 1e-9)
	assert.Empty(t, b.SpecialRules)
	assert.InDelta(t, 0.24, b.Final, 1e-9)
}

func TestCalculateWithDetails_SpecialRules(t *testing.T) {
	tests := []struct {
		name  string
		query string
		qt    QueryType
		rule  string
	}{
		{"digits", "12345", QueryTypeShortKeyword, RuleNumericQuery},
		{"exact id", "P000001", QueryTypeExactID, RuleExactOrTemporal},
		{"temporal", "yesterday", QueryTypeTemporal, RuleExactOrTemporal},
		{"abbreviation", "NASA", QueryTypeShortKeyword, RuleShortUppercase},
		{"single word", "Apple", QueryTypeShortKeyword, RuleSingleWord},
		{"semantic", "how does Alice like her coffee", QueryTypeSemantic, RuleSemanticFloor},
	}

	c := NewThresholdCalculator(DefaultThresholdConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := c.CalculateWithDetails(tt.query, tt.qt, ExtractFeatures(tt.query))
			require.Len(t, b.SpecialRules, 1)
			assert.Equal(t, tt.rule, b.SpecialRules[0])
		})
	}
}

func TestCalculateWithDetails_RulesShortCircuit(t *testing.T) {
	// Given: a short all-uppercase single token classified semantic
	c := NewThresholdCalculator(DefaultThresholdConfig())
	q := "WHY"
	b := c.CalculateWithDetails(q, QueryTypeSemantic, ExtractFeatures(q))

	// Then: only the uppercase rule fires; single-word and floor are skipped
	assert.Equal(t, []string{RuleShortUppercase}, b.SpecialRules)
	assert.Less(t, b.Final, SemanticFloor)
}

func TestLengthStep(t *testing.T) {
	tests := []struct {
		length int
		want   float64
	}{
		{0, -0.2}, {4, -0.2}, {5, -0.1}, {9, -0.1},
		{10, 0}, {49, 0}, {50, 0.05}, {99, 0.05}, {100, 0.1}, {500, 0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, lengthStep(tt.length), 1e-9, "length %d", tt.length)
	}
}

func TestLengthFactorScalesAdjustment(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.LengthFactor = 0.5
	c := NewThresholdCalculator(cfg)

	b := c.CalculateWithDetails("hi there", QueryTypeNaturalLanguage, ExtractFeatures("hi there"))

	assert.InDelta(t, -0.05, b.LengthAdjustment, 1e-9)
}

// =============================================================================
// Feedback
// =============================================================================

func TestRecordFeedback_LowScoresLoosen(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	for i := 0; i < 20; i++ {
		c.RecordFeedback(QueryTypeNaturalLanguage, 0.2)
	}

	assert.InDelta(t, -0.05, c.Stats()[QueryTypeNaturalLanguage].Adjustment, 1e-9)

	b := c.CalculateWithDetails("favorite coffee order for Alice", QueryTypeNaturalLanguage,
		ExtractFeatures("favorite coffee order for Alice"))
	assert.InDelta(t, -0.05, b.HistoricalAdjustment, 1e-9)
	assert.InDelta(t, 0.19, b.Final, 1e-9)
}

func TestRecordFeedback_HighScoresTighten(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	for i := 0; i < 20; i++ {
		c.RecordFeedback(QueryTypeSemantic, 0.9)
	}
	assert.InDelta(t, 0.05, c.Stats()[QueryTypeSemantic].Adjustment, 1e-9)
}

func TestRecordFeedback_DisabledLearningIgnored(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.EnableHistoricalLearning = false
	c := NewThresholdCalculator(cfg)

	c.RecordFeedback(QueryTypeSemantic, 0.9)

	assert.Empty(t, c.Stats())
}

func TestResetStats(t *testing.T) {
	c := NewThresholdCalculator(DefaultThresholdConfig())
	c.RecordFeedback(QueryTypeSemantic, 0.9)
	require.NotEmpty(t, c.Stats())

	c.ResetStats()

	assert.Empty(t, c.Stats())
}

func TestNewThresholdCalculator_FixesInvertedBounds(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.MinThreshold = 0.5
	cfg.MaxThreshold = 0.1
	c := NewThresholdCalculator(cfg)

	assert.Equal(t, 0.5, c.Calculate("Apple", QueryTypeShortKeyword, ExtractFeatures("Apple")))
}
