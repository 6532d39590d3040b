package delivery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
)

const heartbeatInterval = 15 * time.Second

// StreamHandler implements GET /runs/:id/stream. It replays from lastSeq,
// then tails live activity via the Hub, with a heartbeat every 15 seconds
// of silence, closing after the terminal activity.
func (s *Server) StreamHandler(c *gin.Context) {
	runID := c.Param("id")

	run, err := s.authorize(c, runID)
	if err != nil {
		writeJSONError(c, err)
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastSeq := int64(0)
	if raw := c.Query("lastSeq"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSeq = parsed
		}
	}

	writeFrame(w, flusher, domain.Activity{RunID: runID, Kind: domain.ActivityRunInit, Payload: map[string]interface{}{
		"mode": string(run.Mode), "goal": run.Goal, "depth": string(run.Depth),
	}})

	backlog, err := s.store.ListActivitiesSince(c.Request.Context(), runID, lastSeq, 0)
	if err != nil {
		return
	}
	for _, a := range backlog {
		writeFrame(w, flusher, a)
		if isTerminal(a.Kind) {
			return
		}
	}

	live, unsubscribe := s.hub.Subscribe(runID)
	defer unsubscribe()

	ctx := c.Request.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-live:
			if !ok {
				return
			}
			writeFrame(w, flusher, a)
			if isTerminal(a.Kind) {
				return
			}
		case <-ticker.C:
			writeFrame(w, flusher, domain.Activity{RunID: runID, Kind: domain.ActivityHeartbeat, Payload: map[string]interface{}{
				"serverTime": time.Now().UTC().Format(time.RFC3339),
			}})
		}
	}
}

func isTerminal(kind domain.ActivityKind) bool {
	switch kind {
	case domain.ActivityRunCompleted, domain.ActivityRunFailed, domain.ActivityRunCancelled:
		return true
	default:
		return false
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, a domain.Activity) {
	body, _ := json.Marshal(map[string]interface{}{
		"seq": a.Seq, "kind": a.Kind, "data": a.Payload, "timestamp": a.Timestamp,
	})
	fmt.Fprintf(w, "data: %s\n\n", body)
	flusher.Flush()
}

func (s *Server) authorize(c *gin.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		return nil, err
	}
	callerID := c.GetString("userId")
	if run.UserID != callerID {
		return nil, notFoundErr{}
	}
	return run, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "run not found" }

// writeJSONError maps a component error onto an HTTP status. A missing run
// and an unauthorized one are indistinguishable to the caller, both surface
// as 404.
func writeJSONError(c *gin.Context, err error) {
	if _, ok := err.(notFoundErr); ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if re, ok := errs.As(err); ok {
		switch re.Kind {
		case errs.KindValidation:
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": re.Message()})
		}
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}
