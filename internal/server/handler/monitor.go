package handler

import (
	"log/slog"
	"net/http"
)

// MonitorControl is the pause/resume surface of the breach monitor.
type MonitorControl interface {
	Pause()
	Resume()
	Paused() bool
}

// MonitorHandler serves breach-monitor control endpoints.
type MonitorHandler struct {
	monitor MonitorControl
	logger  *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(monitor MonitorControl, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, logger: logger}
}

// Status reports whether breach polling is paused.
// GET /api/monitor/status
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.monitor.Paused()})
}

// Pause suspends breach polling. In-flight liquidations finish; no new
// breach scans start until Resume.
// POST /api/monitor/pause
func (h *MonitorHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.monitor.Pause()
	h.logger.InfoContext(r.Context(), "handler: monitor paused by operator")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume re-enables breach polling.
// POST /api/monitor/resume
func (h *MonitorHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.monitor.Resume()
	h.logger.InfoContext(r.Context(), "handler: monitor resumed by operator")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}
