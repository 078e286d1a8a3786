package expander

import (
	"context"
	"regexp"
	"strings"
)

var scaffolding = regexp.MustCompile(`(?i)^\s*(what|who|where|when|which|how)\s+(is|are|was|were|does|do|did)\s+(the\s+)?|^\s*(tell me about|explain|describe)\s+(the\s+)?`)

// synonyms is consulted in query word order, each word's list in order.
var synonyms = map[string][]string{
	"capital":    {"capital city"},
	"largest":    {"biggest"},
	"biggest":    {"largest"},
	"big":        {"large"},
	"small":      {"little"},
	"city":       {"town"},
	"country":    {"nation"},
	"nation":     {"country"},
	"famous":     {"well-known"},
	"located":    {"situated"},
	"built":      {"constructed"},
	"build":      {"construct"},
	"invented":   {"created"},
	"founded":    {"established"},
	"died":       {"passed away"},
	"author":     {"writer"},
	"wrote":      {"authored"},
	"car":        {"automobile"},
	"buy":        {"purchase"},
	"use":        {"utilize"},
	"fast":       {"quick"},
	"error":      {"failure"},
	"start":      {"begin"},
	"begin":      {"start"},
	"show":       {"display"},
	"find":       {"locate"},
	"help":       {"assist"},
	"create":     {"make"},
	"make":       {"create"},
	"important":  {"significant"},
	"cost":       {"price"},
	"price":      {"cost"},
	"population": {"number of inhabitants"},
}

// Synonym expands with deterministic rules: a keyword form without question
// scaffolding, then single word synonym substitutions.
type Synonym struct {
	max int
}

func NewSynonym(max int) *Synonym { return &Synonym{max: max} }

func (s *Synonym) Expand(_ context.Context, query string) []string {
	v := newVariants(query, s.max)
	base := keywordForm(query)
	v.add(base)

	words := strings.Fields(base)
	for i, w := range words {
		if v.full() {
			break
		}
		key := strings.ToLower(strings.Trim(w, ",;:"))
		for _, syn := range synonyms[key] {
			out := make([]string, len(words))
			copy(out, words)
			out[i] = syn
			if !v.add(strings.Join(out, " ")) {
				break
			}
		}
	}
	return v.out
}

func keywordForm(query string) string {
	q := scaffolding.ReplaceAllString(query, "")
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(q), "?!."))
}
