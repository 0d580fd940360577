// Package handler provides the HTTP surface of the forwarder.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"request-forwarder/internal/config"
	"request-forwarder/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	e.POST("/proxy", proxy.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
