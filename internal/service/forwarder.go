// Package service implements the core request forwarding logic.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"request-forwarder/internal/client"
	"request-forwarder/internal/config"
	"request-forwarder/internal/metrics"
	"request-forwarder/internal/model"
)

// supportedMethods is the set of methods a RequestSpec may name, after upper-casing.
var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// maxTimeoutSeconds is the largest timeout that fits in a time.Duration.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Doer performs a single outbound call.
type Doer interface {
	Do(ctx context.Context, req *model.OutboundRequest) (*model.UpstreamResponse, error)
}

// Forwarder executes one outbound call per Forward and normalizes the result.
// It holds no per-call state and is safe for concurrent use.
type Forwarder struct {
	transport      Doer
	logger         *slog.Logger
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
	allowedHosts   map[string]bool
	userAgent      string
}

// NewForwarder creates a Forwarder.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewForwarder(t Doer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	var allowed map[string]bool
	if len(cfg.Forwarder.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.Forwarder.AllowedHosts))
		for _, h := range cfg.Forwarder.AllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	return &Forwarder{
		transport:      t,
		logger:         logger.With("component", "forwarder"),
		metrics:        m,
		defaultTimeout: time.Duration(cfg.Forwarder.DefaultTimeoutSeconds) * time.Second,
		allowedHosts:   allowed,
		userAgent:      cfg.Forwarder.UserAgent,
	}
}

// Forward performs the call described by spec. Every non-nil error is an *Error.
//
// The outbound call is detached from ctx cancellation: once started it ends
// only on completion, timeout, or transport failure.
func (f *Forwarder) Forward(ctx context.Context, spec *model.RequestSpec) (*model.ResponseDescription, error) {
	out, ferr := f.prepare(spec)
	if ferr != nil {
		return nil, f.fail(ferr)
	}

	f.logger.Debug("forwarding request",
		"method", out.Method,
		"timeout", out.Timeout,
	)

	resp, err := f.transport.Do(context.WithoutCancel(ctx), out)
	if err != nil {
		return nil, f.fail(transportError(err))
	}

	rd, err := translate(resp)
	if err != nil {
		return nil, f.fail(internalError(err))
	}
	return rd, nil
}

// prepare validates spec and builds the outbound request. No I/O happens here.
func (f *Forwarder) prepare(spec *model.RequestSpec) (*model.OutboundRequest, *Error) {
	method := strings.ToUpper(spec.Method)
	if !supportedMethods[method] {
		return nil, validationError(ErrUnsupportedMethod)
	}

	timeout := f.defaultTimeout
	if spec.Timeout != nil {
		if *spec.Timeout <= 0 {
			return nil, validationError(fmt.Errorf("timeout must be a positive number of seconds; got %d", *spec.Timeout))
		}
		if int64(*spec.Timeout) > maxTimeoutSeconds {
			return nil, validationError(fmt.Errorf("timeout must be at most %d seconds; got %d", maxTimeoutSeconds, *spec.Timeout))
		}
		timeout = time.Duration(*spec.Timeout) * time.Second
	}

	if f.allowedHosts != nil {
		u, err := url.Parse(spec.URL)
		if err != nil {
			return nil, transportError(err)
		}
		if !f.allowedHosts[strings.ToLower(u.Hostname())] {
			return nil, validationError(ErrHostNotAllowed)
		}
	}

	out := &model.OutboundRequest{
		Method:  method,
		URL:     spec.URL,
		Params:  spec.Params,
		Timeout: timeout,
	}
	if bodyEligible(method) && spec.Body.Present() {
		out.Body = spec.Body.Bytes()
	}
	out.Header = f.buildHeader(spec.Headers, out.Body != nil)

	return out, nil
}

// bodyEligible reports whether a body may be sent with method.
func bodyEligible(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// buildHeader copies caller headers and fills in defaults the caller did not set.
func (f *Forwarder) buildHeader(src map[string]string, jsonBody bool) http.Header {
	dst := make(http.Header, len(src)+2)
	for k, v := range src {
		dst.Set(k, v)
	}
	if jsonBody && dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	if dst.Get("User-Agent") == "" && f.userAgent != "" {
		dst.Set("User-Agent", f.userAgent)
	}
	return dst
}

// translate turns an upstream response into a ResponseDescription.
func translate(resp *model.UpstreamResponse) (*model.ResponseDescription, error) {
	contentType := resp.Header.Get("Content-Type")

	var body model.ResponseBody
	if strings.HasPrefix(contentType, "application/json") {
		var raw json.RawMessage
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return nil, err
		}
		body = model.JSONBody(raw)
	} else {
		text, err := client.DecodeText(resp.Body, contentType)
		if err != nil {
			return nil, err
		}
		body = model.TextBody(text)
	}

	return &model.ResponseDescription{
		StatusCode:     resp.StatusCode,
		Headers:        flattenHeader(resp.Header),
		Body:           body,
		ElapsedSeconds: resp.Elapsed.Seconds(),
	}, nil
}

// flattenHeader lowercases names and joins repeated values with ", ".
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	return out
}

func (f *Forwarder) fail(e *Error) error {
	if f.metrics != nil {
		f.metrics.ForwardFailures.WithLabelValues(e.Kind.String()).Inc()
	}
	f.logger.Debug("forward failed", "kind", e.Kind.String(), "err", e.Message)
	return e
}
