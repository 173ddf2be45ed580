package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/monitor"
	"github.com/ShirePyDev/runtime-agent-guard/internal/orchestrator"
)

// Handlers holds all API handlers with their dependencies.
type Handlers struct {
	Monitor      *monitor.Monitor
	Orchestrator *orchestrator.Orchestrator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(m *monitor.Monitor, o *orchestrator.Orchestrator) *Handlers {
	return &Handlers{Monitor: m, Orchestrator: o}
}

// evaluateRequest is a one-shot monitor evaluation.
type evaluateRequest struct {
	Goal    string              `json:"goal" binding:"required"`
	Tool    string              `json:"tool" binding:"required"`
	Args    map[string]any      `json:"args"`
	History []guard.StepRecord  `json:"history"`
	Session *guard.SessionState `json:"session"`
}

// Evaluate returns the monitor's decision for a single proposed tool call
// without executing anything.
func (h *Handlers) Evaluate(c *gin.Context) {
	if h.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not configured"})
		return
	}

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := req.Session
	if session == nil {
		session = guard.NewSessionState(h.Monitor.Config())
	}

	d := h.Monitor.Evaluate(c.Request.Context(), req.Goal, req.Tool, req.Args, req.History, session)
	c.JSON(http.StatusOK, gin.H{
		"decision":     d.Verdict,
		"reason":       d.Reason,
		"risk_score":   d.RiskScore,
		"reason_codes": d.ReasonCodes,
		"metadata":     d.Metadata,
		"session":      session,
	})
}

// runRequest executes a full proposed action sequence under enforcement.
type runRequest struct {
	Goal        string         `json:"goal" binding:"required"`
	Actions     []guard.Action `json:"actions" binding:"required"`
	AutoConfirm bool           `json:"auto_confirm"`
}

// Run orchestrates an episode. A terminated session is a normal outcome,
// not an HTTP error: callers read the verdict trail from the steps.
func (h *Handlers) Run(c *gin.Context) {
	if h.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator not configured"})
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Orchestrator.Run(c.Request.Context(), req.Goal, req.Actions, orchestrator.Options{
		AutoConfirm: req.AutoConfirm,
	})
	var blocked *orchestrator.PolicyBlockedError
	if err != nil && !errors.As(err, &blocked) {
		log.Error().Err(err).Msg("run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run failed"})
		return
	}

	resp := gin.H{
		"goal":     result.Goal,
		"session":  result.Session,
		"steps":    result.Steps,
		"log_path": result.LogPath,
	}
	if blocked != nil {
		resp["blocked"] = gin.H{
			"step":         blocked.Step,
			"tool":         blocked.Tool,
			"reason":       blocked.Reason,
			"reason_codes": blocked.Codes,
		}
	}
	c.JSON(http.StatusOK, resp)
}
