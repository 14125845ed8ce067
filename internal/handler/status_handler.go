// Package handler exposes the agent's local status endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/auth"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/realtime"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/tracker"
)

// StatusHandler reports the agent's runtime state over HTTP
type StatusHandler struct {
	session *auth.Manager
	channel *realtime.Channel
	tracker *tracker.Tracker
	started time.Time
	version string
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(session *auth.Manager, channel *realtime.Channel, tr *tracker.Tracker, version string) *StatusHandler {
	return &StatusHandler{
		session: session,
		channel: channel,
		tracker: tr,
		started: time.Now(),
		version: version,
	}
}

// RegisterRoutes mounts the status endpoints
func (h *StatusHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
}

// Health is the liveness probe
// GET /health
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"status":  "ok",
			"version": h.version,
			"uptime":  time.Since(h.started).Round(time.Second).String(),
		},
	})
}

// Status reports session, channel and tracker state
// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	session := h.session.Session()
	push := h.session.PushIdentity()

	authState := gin.H{
		"loggedIn":  session.IsLoggedIn(),
		"isAdmin":   h.session.AdminProfile() != nil,
		"isCourier": h.session.CourierProfile() != nil,
		"push": gin.H{
			"permissionGranted":   push.PermissionGranted,
			"permissionRequested": push.PermissionRequested,
			"hasIdentifiers":      push.HasIdentifiers(),
		},
	}
	if session.User != nil {
		authState["userId"] = session.User.ID
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"auth":    authState,
			"channel": h.channel.Snapshot(),
			"tracker": gin.H{
				"running": h.tracker.Running(),
				"mode":    string(h.tracker.Mode()),
			},
		},
	})
}
