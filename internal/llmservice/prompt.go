package llmservice

import (
	"fmt"
	"sort"

	"github.com/tmc/langchaingo/prompts"
)

// Render fills a Go template prompt with vars.
func Render(tmpl string, vars map[string]any) (string, error) {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	out, err := prompts.NewPromptTemplate(tmpl, names).Format(vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}
