package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"request-forwarder/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Health is the liveness probe. It has no dependencies and always succeeds.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// statusBody describes the running forwarder.
type statusBody struct {
	Status                string `json:"status"`
	Version               string `json:"version"`
	DefaultTimeoutSeconds int    `json:"default_timeout_seconds"`
	HostAllowlist         bool   `json:"host_allowlist"`
}

// Status returns build and forwarder settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{
		Status:                "healthy",
		Version:               string(h.version),
		DefaultTimeoutSeconds: h.cfg.Forwarder.DefaultTimeoutSeconds,
		HostAllowlist:         len(h.cfg.Forwarder.AllowedHosts) > 0,
	})
}
