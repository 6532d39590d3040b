package delivery

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/followup"
	"github.com/replicatedhq/chartsmith/pkg/runmanager"
)

// Server wires the HTTP-facing delivery surface to the run manager and
// the follow-up service: gin.New() plus gin-contrib/cors middleware.
type Server struct {
	store    deliveryStore
	hub      *Hub
	manager  *runmanager.Manager
	followup *followup.Service
}

// deliveryStore is the read-path subset of pkg/store the delivery surface
// reads against directly, in addition to the hub's live fan-out.
type deliveryStore interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListActivitiesSince(ctx context.Context, runID string, sinceSeq int64, limit int) ([]domain.Activity, error)
}

func NewServer(store deliveryStore, hub *Hub, manager *runmanager.Manager, followupSvc *followup.Service) *Server {
	return &Server{store: store, hub: hub, manager: manager, followup: followupSvc}
}

// Router builds the gin engine exposing every run-lifecycle route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(authMiddleware)

	runs := r.Group("/runs")
	{
		runs.POST("", s.CreateRunHandler)
		runs.GET("/:id", s.PollHandler)
		runs.GET("/:id/stream", s.StreamHandler)
		runs.POST("/:id/chat", s.ChatHandler)
		runs.POST("/:id/regenerate", s.RegenerateHandler)
		runs.POST("/:id/cancel", s.CancelHandler)
	}

	// Mode-specific aliases, all delegating to CreateRunHandler with the
	// mode pre-set.
	r.POST("/research/start", s.modeAlias(domain.ModeResearch))
	r.POST("/reports/generate", s.modeAlias(domain.ModeReport))
	r.POST("/templates/generate", s.modeAlias(domain.ModeTemplate))
	r.POST("/agentic/start", s.modeAlias(domain.ModeCharts))
	r.POST("/plans/generate", s.modeAlias(domain.ModePlan))

	return r
}

// authMiddleware trusts an upstream-verified X-User-Id header, consistent
// with this system sitting behind an authenticating API gateway.
func authMiddleware(c *gin.Context) {
	userID := c.GetHeader("X-User-Id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	c.Set("userId", userID)
	c.Next()
}

type createRunRequest struct {
	Goal         string             `json:"goal"`
	Depth        domain.Depth       `json:"depth"`
	Focus        string             `json:"focus"`
	TemplateType string             `json:"templateType"`
	ChartTypes   []domain.ChartKind `json:"chartTypes"`
	PlanFormat   string             `json:"planFormat"`
	OrgID        string             `json:"orgId"`
	Files        []domain.FileInput `json:"files"`
}

func (s *Server) modeAlias(mode domain.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.createRun(c, mode)
	}
}

func (s *Server) CreateRunHandler(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := domain.Mode(c.Query("mode"))
	if mode == "" {
		mode = domain.ModeResearch
	}
	s.createRunWithRequest(c, mode, req)
}

func (s *Server) createRun(c *gin.Context, mode domain.Mode) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.createRunWithRequest(c, mode, req)
}

func (s *Server) createRunWithRequest(c *gin.Context, mode domain.Mode, req createRunRequest) {
	userID := c.GetString("userId")
	run := domain.Run{
		ID:           domain.NewID(),
		UserID:       userID,
		OrgID:        req.OrgID,
		Mode:         mode,
		Goal:         req.Goal,
		Depth:        req.Depth,
		Focus:        req.Focus,
		TemplateType: req.TemplateType,
		ChartTypes:   req.ChartTypes,
		PlanFormat:   req.PlanFormat,
		Files:        req.Files,
	}
	if run.Depth == "" {
		run.Depth = domain.DepthMedium
	}

	if err := s.manager.Start(c.Request.Context(), run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": string(domain.StatusQueued)})
}

type pollResponse struct {
	Status       string            `json:"status"`
	Activities   []domain.Activity `json:"activities"`
	NextCursor   int64             `json:"nextCursor"`
	Terminal     bool              `json:"terminal"`
	FinalContent string            `json:"finalContent,omitempty"`
	ErrorKind    string            `json:"errorKind,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// PollHandler implements GET /runs/:id?sinceSeq=N, the non-streaming
// fallback surface over the same activity log the SSE handler reads.
func (s *Server) PollHandler(c *gin.Context) {
	runID := c.Param("id")

	run, err := s.authorize(c, runID)
	if err != nil {
		writeJSONError(c, err)
		return
	}

	sinceSeq := int64(0)
	if raw := c.Query("sinceSeq"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			sinceSeq = parsed
		}
	}

	activities, err := s.store.ListActivitiesSince(c.Request.Context(), runID, sinceSeq, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	nextCursor := sinceSeq
	if len(activities) > 0 {
		nextCursor = activities[len(activities)-1].Seq
	}

	terminal := run.Status == domain.StatusCompleted || run.Status == domain.StatusFailed || run.Status == domain.StatusCancelled

	resp := pollResponse{
		Status:     string(run.Status),
		Activities: activities,
		NextCursor: nextCursor,
		Terminal:   terminal,
	}
	if terminal {
		resp.FinalContent = run.FinalContent
		resp.ErrorKind = run.ErrorKind
		resp.ErrorMessage = run.ErrorMessage
	}

	c.JSON(http.StatusOK, resp)
}

type chatRequest struct {
	Question string `json:"question"`
}

func (s *Server) ChatHandler(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answer, err := s.followup.Chat(c.Request.Context(), c.GetString("userId"), c.Param("id"), req.Question)
	if err != nil {
		writeJSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

type regenerateRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) RegenerateHandler(c *gin.Context) {
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newRunID, err := s.followup.Regenerate(c.Request.Context(), c.GetString("userId"), c.Param("id"), req.Feedback)
	if err != nil {
		writeJSONError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": newRunID, "status": string(domain.StatusQueued)})
}

func (s *Server) CancelHandler(c *gin.Context) {
	runID := c.Param("id")
	if _, err := s.authorize(c, runID); err != nil {
		writeJSONError(c, err)
		return
	}
	s.manager.Cancel(runID)
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
