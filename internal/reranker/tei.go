package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

// TEI calls the /rerank endpoint of a text-embeddings-inference server that
// hosts a cross-encoder model.
type TEI struct {
	baseURL string
	model   string
	policy  retry.Policy
	client  *http.Client
}

func NewTEI(baseURL, model string, policy retry.Policy) *TEI {
	return &TEI{baseURL: strings.TrimRight(baseURL, "/"), model: model, policy: policy, client: &http.Client{}}
}

func (t *TEI) Name() string {
	if t.model != "" {
		return "tei:" + t.model
	}
	return "tei"
}

type teiRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type teiResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (t *TEI) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(teiRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, err
	}
	var results []teiResult
	err = retry.Do(ctx, t.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("rerank returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		results = results[:0]
		return json.NewDecoder(resp.Body).Decode(&results)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrRerankUnavailable, t.Name(), err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) || seen[r.Index] {
			return nil, fmt.Errorf("%w: %s returned bad index %d", models.ErrRerankUnavailable, t.Name(), r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: %s returned no score for text %d", models.ErrRerankUnavailable, t.Name(), i)
		}
	}
	return scores, nil
}
