package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Language is the script mix detected in a query.
type Language string

const (
	LanguageEnglish Language = "english"
	LanguageChinese Language = "chinese"
	LanguageMixed   Language = "mixed"
)

// QueryFeatures are cheap surface measurements of a query.
type QueryFeatures struct {
	// Length is the number of runes, not bytes.
	Length          int      `json:"length"`
	WordCount       int      `json:"word_count"`
	HasSpecialChars bool     `json:"has_special_chars"`
	IsQuestion      bool     `json:"is_question"`
	HasNumbers      bool     `json:"has_numbers"`
	IsUppercase     bool     `json:"is_uppercase"`
	Language        Language `json:"language"`
}

// Punctuation that ordinary prose uses; anything else counts as special.
const plainPunctuation = "'-_.,?!？，。！、"

var interrogativeWords = map[string]bool{
	"what": true, "who": true, "whom": true, "whose": true, "where": true,
	"when": true, "why": true, "how": true, "which": true,
	"is": true, "are": true, "can": true, "does": true, "do": true, "did": true,
	"should": true, "could": true, "would": true, "will": true,
}

var chineseInterrogatives = []string{"什么", "怎么", "为什么", "哪", "吗", "呢", "如何", "谁"}

// ExtractFeatures measures query. It is total: the empty query yields the
// zero value with LanguageEnglish.
func ExtractFeatures(query string) QueryFeatures {
	f := QueryFeatures{
		Length:    utf8.RuneCountInString(query),
		WordCount: len(strings.Fields(query)),
		Language:  LanguageEnglish,
	}
	if f.Length == 0 {
		return f
	}

	var hasUpper, hasLower, hasHan, hasLatin bool
	for _, r := range query {
		switch {
		case unicode.IsDigit(r):
			f.HasNumbers = true
		case unicode.Is(unicode.Han, r):
			hasHan = true
		case unicode.IsLetter(r):
			if unicode.Is(unicode.Latin, r) {
				hasLatin = true
			}
			if unicode.IsUpper(r) {
				hasUpper = true
			} else if unicode.IsLower(r) {
				hasLower = true
			}
		case unicode.IsSpace(r):
		case strings.ContainsRune(plainPunctuation, r):
		default:
			f.HasSpecialChars = true
		}
	}

	f.IsUppercase = hasUpper && !hasLower
	f.IsQuestion = isQuestion(query)

	switch {
	case hasHan && hasLatin:
		f.Language = LanguageMixed
	case hasHan:
		f.Language = LanguageChinese
	}
	return f
}

func isQuestion(query string) bool {
	if strings.ContainsAny(query, "?？") {
		return true
	}
	fields := strings.Fields(query)
	if len(fields) > 0 {
		first := strings.ToLower(strings.TrimFunc(fields[0], func(r rune) bool {
			return !unicode.IsLetter(r)
		}))
		if interrogativeWords[first] && len(fields) > 1 {
			return true
		}
	}
	for _, w := range chineseInterrogatives {
		if strings.Contains(query, w) {
			return true
		}
	}
	return false
}

// isDigitsOrSpace reports whether s has at least one digit and otherwise
// only whitespace.
func isDigitsOrSpace(s string) bool {
	digits := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits = true
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return digits
}
