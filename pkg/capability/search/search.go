// Package search is the web-search capability adapter. It performs a
// keyword search against a configured search API and then asks the LLM
// capability to structure the raw results into findings and sources.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/errs"
)

type Result struct {
	Summary  string
	Findings []string
	Sources  []string
}

type Client interface {
	Search(ctx context.Context, query string, deadline time.Duration) (Result, error)
}

type client struct {
	cfg       config.Config
	llmClient llm.Client
	http      *http.Client
}

func New(cfg config.Config, llmClient llm.Client) Client {
	return &client{cfg: cfg, llmClient: llmClient, http: &http.Client{}}
}

type rawSearchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

const structurePrompt = `You are structuring raw web search results into a research capability response.
Given the query and the raw search snippets below, produce 10 to 15 specific findings.
Each finding must be one complete sentence stating a concrete fact, not a vague summary.
Also list 3 to 6 canonical source URLs drawn only from the snippets provided.
Respond as JSON: {"summary": "...", "findings": ["...", ...], "sources": ["https://...", ...]}.

Query: %s

Raw results:
%s`

// Search performs the keyword lookup then structures the result. Any
// transport failure returns a tool_transport/tool_upstream error — the
// adapter never retries; that policy belongs to the executor.
func (c *client) Search(ctx context.Context, query string, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("search called without a deadline"))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	raw, err := c.rawSearch(ctx, query)
	if err != nil {
		return Result{}, err
	}

	var snippets strings.Builder
	for _, r := range raw.Results {
		fmt.Fprintf(&snippets, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}

	resp, err := c.llmClient.Ask(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(structurePrompt, query, snippets.String())},
	}, 0.2, deadline)
	if err != nil {
		return Result{}, err
	}

	var structured struct {
		Summary  string   `json:"summary"`
		Findings []string `json:"findings"`
		Sources  []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &structured); err != nil {
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("search structuring returned invalid json: %w", err))
	}

	return Result{Summary: structured.Summary, Findings: structured.Findings, Sources: structured.Sources}, nil
}

func (c *client) rawSearch(ctx context.Context, query string) (rawSearchResponse, error) {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SearchEndpoint, bytes.NewReader(body))
	if err != nil {
		return rawSearchResponse{}, errs.New(errs.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SearchAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.SearchAPIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return rawSearchResponse{}, errs.New(errs.KindToolTimeout, err)
		}
		return rawSearchResponse{}, errs.New(errs.KindToolTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return rawSearchResponse{}, errs.New(errs.KindToolUpstream, fmt.Errorf("search endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return rawSearchResponse{}, errs.New(errs.KindToolUpstream, fmt.Errorf("search endpoint returned %d", resp.StatusCode))
	}

	var out rawSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rawSearchResponse{}, errs.New(errs.KindToolUpstream, fmt.Errorf("invalid search response: %w", err))
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
