package helper

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be by did do does for from had has have he her his how
	i in is it its of on or she that the their them they this to was were what when where which who whom
	why will with you your`) {
		stopwords[w] = struct{}{}
	}
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsStopword reports whether tok is a common English function word.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// ContentTokens is Tokenize without stopwords.
func ContentTokens(s string) []string {
	toks := Tokenize(s)
	out := toks[:0]
	for _, t := range toks {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// TokenSet returns the distinct content tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range ContentTokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// SplitSentences splits s after '.', '!' or '?' followed by whitespace.
// Empty sentences are dropped.
func SplitSentences(s string) []string {
	var out []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			if sent := strings.TrimSpace(string(runes[start : i+1])); sent != "" {
				out = append(out, sent)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		if sent := strings.TrimSpace(string(runes[start:])); sent != "" {
			out = append(out, sent)
		}
	}
	return out
}
