// Package expander generates query variants to widen first stage recall.
package expander

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
)

// Expander returns the original query first, then up to max-1 distinct
// reformulations. It never fails; problems degrade to []string{query}.
type Expander interface {
	Expand(ctx context.Context, query string) []string
}

// New returns the expander named by kind.
func New(kind string, max int, client llmservice.Client) (Expander, error) {
	if max < 1 {
		return nil, fmt.Errorf("%w: max_expansions must be >= 1", models.ErrInvalidConfig)
	}
	switch kind {
	case "", "none":
		return None{}, nil
	case "synonym":
		return NewSynonym(max), nil
	case "llm":
		if client == nil {
			return nil, fmt.Errorf("%w: llm expander needs a generation client", models.ErrInvalidConfig)
		}
		return NewLLM(client, max), nil
	}
	return nil, fmt.Errorf("%w: unknown expander %q", models.ErrInvalidConfig, kind)
}

// None performs no expansion.
type None struct{}

func (None) Expand(_ context.Context, query string) []string { return []string{query} }

// variants collects distinct strings, comparing case-insensitively.
type variants struct {
	max  int
	out  []string
	seen map[string]struct{}
}

func newVariants(query string, max int) *variants {
	v := &variants{max: max, seen: map[string]struct{}{}}
	v.out = append(v.out, query)
	v.seen[normalize(query)] = struct{}{}
	return v
}

func (v *variants) add(s string) bool {
	if len(v.out) >= v.max {
		return false
	}
	key := normalize(s)
	if key == "" {
		return true
	}
	if _, ok := v.seen[key]; ok {
		return true
	}
	v.seen[key] = struct{}{}
	v.out = append(v.out, s)
	return true
}

func (v *variants) full() bool { return len(v.out) >= v.max }

var spaces = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.ToLower(spaces.ReplaceAllString(strings.TrimSpace(strings.Trim(s, " ?!.")), " "))
}
