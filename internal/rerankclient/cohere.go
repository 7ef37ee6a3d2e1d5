package rerankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	cohereRerankURL = "https://api.cohere.com/v1/rerank"
	cohereModel     = "rerank-english-v3.0"
)

// cohereTransport marshals the rerank request, POSTs with bearer auth,
// decodes, and surfaces the API's own error field.
type cohereTransport struct {
	apiKey     string
	httpClient *http.Client
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Message string `json:"message,omitempty"`
}

func (c *cohereTransport) rerank(ctx context.Context, query string, passages []string, topK int) ([]rawScore, error) {
	body, err := json.Marshal(cohereRequest{Model: cohereModel, Query: query, Documents: passages, TopN: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cohereRerankURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result cohereResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal rerank response: %w", err)
	}
	if result.Message != "" && len(result.Results) == 0 {
		return nil, fmt.Errorf("rerank API error: %s", result.Message)
	}

	out := make([]rawScore, len(result.Results))
	for i, r := range result.Results {
		out[i] = rawScore{Index: r.Index, Score: r.RelevanceScore}
	}
	return out, nil
}
