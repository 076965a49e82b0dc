package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"unsealer/internal/countdown"
	"unsealer/internal/journal"
	"unsealer/internal/phase"
	logx "unsealer/pkg/logx"
)

type handlers struct {
	cd      Countdown
	journal journal.Journal
	health  func() Health
	log     logx.Logger

	writeTimeout time.Duration
	origins      []string
}

// countdown serves the latest frame. A config-invalid frame is still
// returned as the body so clients can render the error theme.
func (h *handlers) countdown(c *gin.Context) {
	snap := h.cd.Snapshot()
	c.Header("Cache-Control", "no-store")
	status := http.StatusOK
	if !snap.IsConfigValid {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snap)
}

func (h *handlers) phases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"phases":       phase.All(),
		"config_error": phase.ConfigErrorInfo(),
	})
}

func (h *handlers) events(c *gin.Context) {
	limit := journal.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if h.journal == nil {
		c.JSON(http.StatusOK, gin.H{"events": []journal.Entry{}, "enabled": false})
		return
	}
	entries, err := h.journal.Recent(c.Request.Context(), journal.ClampLimit(limit))
	if err != nil {
		h.log.Warn("journal read failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"events": entries, "enabled": true})
}

type healthBody struct {
	Status string          `json:"status"`
	State  countdown.State `json:"state"`
	Target *time.Time      `json:"target,omitempty"`
	Health
}

func (h *handlers) healthz(c *gin.Context) {
	st := h.cd.State()
	body := healthBody{Status: "ok", State: st}
	if snap := h.cd.Snapshot(); !snap.Target.IsZero() {
		t := snap.Target
		body.Target = &t
	}
	if h.health != nil {
		body.Health = h.health()
	}
	status := http.StatusOK
	if st != countdown.StateRunning {
		body.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if body.Supervisor.FirstError != "" {
		body.Status = "degraded"
	}
	c.JSON(status, body)
}
