package chart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
)

func TestRenderWithoutDeadlineFails(t *testing.T) {
	c := New(config.Config{})
	_, err := c.Render(context.Background(), domain.ChartBar, map[string]interface{}{"x": 1}, 0)
	if err == nil {
		t.Fatal("expected an error for a zero deadline")
	}
	re, ok := errs.As(err)
	if !ok || re.Kind != errs.KindInternal {
		t.Errorf("got %v, want KindInternal", err)
	}
}

func TestRenderNilPayloadFails(t *testing.T) {
	c := New(config.Config{})
	_, err := c.Render(context.Background(), domain.ChartBar, nil, time.Second)
	if err == nil {
		t.Fatal("expected an error for a nil payload")
	}
	re, ok := errs.As(err)
	if !ok || re.Kind != errs.KindToolUpstream {
		t.Errorf("got %v, want KindToolUpstream", err)
	}
}

func TestRenderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req renderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ChartKind != string(domain.ChartBar) {
			t.Errorf("unexpected chart kind in request: %s", req.ChartKind)
		}
		_ = json.NewEncoder(w).Encode(renderResponse{ImageURL: "https://images.example.com/1.png"})
	}))
	defer srv.Close()

	c := New(config.Config{ChartServiceURL: srv.URL})
	result, err := c.Render(context.Background(), domain.ChartBar, map[string]interface{}{"x": 1}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ImageURL != "https://images.example.com/1.png" || result.ChartKind != domain.ChartBar {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRenderUpstreamErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(renderResponse{Error: "unsupported chart kind"})
	}))
	defer srv.Close()

	c := New(config.Config{ChartServiceURL: srv.URL})
	_, err := c.Render(context.Background(), domain.ChartBar, map[string]interface{}{"x": 1}, time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != "unsupported chart kind" {
		t.Errorf("err = %q, want %q", err.Error(), "unsupported chart kind")
	}
}
