// Package moderation provides content filtering and policy enforcement for
// chat messages: a blocklist filter with obfuscation-resistant
// normalization, spam pattern screening, and a two-tier strike/ban ledger.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of screening one message.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword", "invalid_characters", "spam_pattern"
	Term    string // the matched blocklist term or pattern name
}

// Filter screens message text against a blocklist. Matching is
// token-exact, not substring: "class" never matches "ass". Two normalized
// views of the text are checked — a plain casefolded view and a leetspeak-
// collapsed view — so "h0rny" matches the blocklist entry "horny".
type Filter struct {
	words   map[string]bool // single-word terms
	phrases []string        // multi-word terms, matched on token sequences
}

// defaultBlocklist seeds NewFilter. Single words match per-token; entries
// with spaces match as phrases.
var defaultBlocklist = []string{
	// slurs
	"nigger", "faggot", "kike", "spic", "chink", "tranny",
	// sexual / solicitation
	"horny", "nudes", "send nudes", "child porn",
	// self-harm incitement
	"kill yourself", "kys", "go die",
	// violence / threats
	"bomb threat", "heil hitler", "school shooting",
	// scams
	"free bitcoin", "free robux",
}

// NewFilter creates a Filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Empty and
// whitespace-only terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]bool)}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = true
		}
	}
	return f
}

// Check screens a message. The first failing check wins: character-set
// validation, then blocklist (plain and leet-normalized views), then spam
// patterns.
func (f *Filter) Check(text string) FilterResult {
	if bad, r := invalidRune(text); bad {
		return FilterResult{Blocked: true, Reason: "invalid_characters", Term: string(r)}
	}

	lower := strings.ToLower(text)

	// Plain view: tokens split on any non-alphanumeric rune.
	plain := tokenizePlain(lower)
	if term, hit := f.matchTokens(plain); hit {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	// Leet view: whitespace tokens, each collapsed through the leet map
	// before punctuation stripping, so "$h!t" survives as one token.
	leet := make([]string, 0, 8)
	for _, tok := range tokenizeLeet(lower) {
		if n := normalizeLeet(tok); n != "" {
			leet = append(leet, n)
		}
	}
	if term, hit := f.matchTokens(leet); hit {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

// matchTokens tests a token sequence against the word set and phrase list.
func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if f.words[tok] {
			return tok, true
		}
	}
	if len(f.phrases) > 0 {
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				return phrase, true
			}
		}
	}
	return "", false
}

// invalidRune reports the first rune outside the allowed set. Letters,
// digits, punctuation, symbols, and spaces are allowed; control characters
// and the like are not.
func invalidRune(text string) (bool, rune) {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) ||
			unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		return true, r
	}
	return false, 0
}

// leetMap collapses common character substitutions used to dodge the
// blocklist. Applied before punctuation stripping.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet collapses leetspeak substitutions in a token and drops any
// remaining non-letter runes.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// tokenizePlain splits text on every non-alphanumeric rune.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits text on whitespace only, preserving the substitution
// characters inside each token for normalizeLeet.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}
