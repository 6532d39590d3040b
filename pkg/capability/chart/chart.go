// Package chart is the chart-render capability adapter: a typed
// payload is POSTed to an external chart-rendering service and an image
// URL comes back. Errors are always returned, never fatally logged — a
// capability adapter must never crash the owning run.
package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
)

type Result struct {
	ImageURL  string
	ChartKind domain.ChartKind
}

type Client interface {
	Render(ctx context.Context, kind domain.ChartKind, payload map[string]interface{}, deadline time.Duration) (Result, error)
}

type client struct {
	cfg  config.Config
	http *http.Client
}

func New(cfg config.Config) Client {
	return &client{cfg: cfg, http: &http.Client{}}
}

type renderRequest struct {
	ChartKind string                 `json:"chartKind"`
	Payload   map[string]interface{} `json:"payload"`
}

type renderResponse struct {
	ImageURL string `json:"imageUrl"`
	Error    string `json:"error"`
}

func (c *client) Render(ctx context.Context, kind domain.ChartKind, payload map[string]interface{}, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("chart render called without a deadline"))
	}
	if payload == nil {
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("invalid chart payload for kind %s", kind))
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(renderRequest{ChartKind: string(kind), Payload: payload})
	if err != nil {
		return Result{}, errs.New(errs.KindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChartServiceURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.New(errs.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errs.New(errs.KindToolTimeout, err)
		}
		return Result{}, errs.New(errs.KindToolTransport, err)
	}
	defer resp.Body.Close()

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("invalid chart response: %w", err))
	}

	if resp.StatusCode != http.StatusOK || out.ImageURL == "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("chart service returned %d", resp.StatusCode)
		}
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("%s", msg))
	}

	return Result{ImageURL: out.ImageURL, ChartKind: kind}, nil
}
