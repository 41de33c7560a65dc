package retrieval

import "regexp"

// Compiled at package init; matching is the hot path of classification.
var (
	// Opaque identifiers: one token of word characters and dashes.
	// Digits are checked separately so plain words like "Apple" stay keywords.
	idTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

	// Calendar dates: 2024-01-15, 2024/01/15, 15/01/2024, 1/15/24
	datePattern = regexp.MustCompile(`\b(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)

	// Relative time and calendar vocabulary. "may" is left out; it is far
	// more often a modal verb than a month.
	temporalWordPattern = regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|tonight|ago|recent|recently|` +
		`(last|next|this|past)\s+(night|morning|week|weekend|month|year|quarter|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|` +
		`monday|tuesday|wednesday|thursday|friday|saturday|sunday|` +
		`january|february|march|april|june|july|august|september|october|november|december)\b`)

	// Chinese relative time expressions.
	temporalHanPattern = regexp.MustCompile(`今天|昨天|明天|前天|后天|上周|下周|本周|这周|最近|上个月|下个月|去年|今年|明年|刚才`)
)

func isExactID(query string) bool {
	if !idTokenPattern.MatchString(query) || datePattern.MatchString(query) {
		return false
	}
	for i := 0; i < len(query); i++ {
		if query[i] >= '0' && query[i] <= '9' {
			return true
		}
	}
	return false
}

func isTemporal(query string) bool {
	return datePattern.MatchString(query) ||
		temporalWordPattern.MatchString(query) ||
		temporalHanPattern.MatchString(query)
}
