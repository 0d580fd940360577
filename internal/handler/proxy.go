package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"request-forwarder/internal/model"
	"request-forwarder/internal/service"
)

// errorBody is the payload written for every failed request.
type errorBody struct {
	Detail string `json:"detail"`
}

// ProxyHandler decodes RequestSpecs and hands them to the Forwarder.
type ProxyHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(f *service.Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: f,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle performs the forward operation and writes the ResponseDescription as JSON.
func (h *ProxyHandler) Handle(c echo.Context) error {
	spec, err := decodeSpec(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Detail: err.Error()})
	}

	rd, err := h.forwarder.Forward(c.Request().Context(), spec)
	if err != nil {
		return h.mapError(c, spec, err)
	}

	return c.JSON(http.StatusOK, rd)
}

// decodeSpec reads a single RequestSpec from r. Only url is checked here;
// everything else is the Forwarder's call.
func decodeSpec(r io.Reader) (*model.RequestSpec, error) {
	var spec model.RequestSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is required")
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if spec.URL == "" {
		return nil, errors.New("url is required")
	}
	return &spec, nil
}

func (h *ProxyHandler) mapError(c echo.Context, spec *model.RequestSpec, err error) error {
	kind := service.KindOf(err)

	level := slog.LevelError
	if kind == service.KindValidation {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "forward failed",
		"kind", kind.String(),
		"err", err.Error(),
		"method", spec.Method,
		"target_host", targetHost(spec.URL),
	)

	return c.JSON(kind.HTTPStatus(), errorBody{Detail: err.Error()})
}

// targetHost returns the host of rawURL for logging, without userinfo, path, or query.
func targetHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
