// Package client provides the outbound HTTP transport used by the forwarder.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"request-forwarder/internal/config"
	"request-forwarder/internal/metrics"
	"request-forwarder/internal/model"
)

// ErrResponseTooLarge is returned when an upstream body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// Transport performs outbound calls. Every call gets its own http.Client and
// connection pool, which are torn down before Do returns.
type Transport struct {
	logger           *slog.Logger
	metrics          *metrics.Metrics
	maxResponseBytes int64
}

// NewTransport creates a Transport.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewTransport(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Transport {
	return &Transport{
		logger:           logger.With("component", "transport"),
		metrics:          m,
		maxResponseBytes: cfg.Forwarder.MaxResponseBytes,
	}
}

// newClient builds a client scoped to a single call. Keep-alives are off so
// the connection is closed with the response, and redirects are returned to
// the caller rather than followed.
func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   true,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Do sends the request and reads the whole, content-decoded response body.
// The size cap applies to the decoded bytes. The returned error,
// if any, describes a transport-level failure; no partial response is returned.
func (t *Transport) Do(ctx context.Context, out *model.OutboundRequest) (*model.UpstreamResponse, error) {
	target, err := withParams(out.URL, out.Params)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, target, body)
	if err != nil {
		return nil, err
	}
	for key, vals := range out.Header {
		req.Header[key] = vals
	}
	if host := out.Header.Get("Host"); host != "" {
		req.Host = host
	}

	hc := newClient(out.Timeout)
	defer hc.CloseIdleConnections()

	t.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		t.observe(method, time.Since(start), 0)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	// net/http only decompresses when it chose Accept-Encoding itself.
	var src io.Reader = resp.Body
	if !resp.Uncompressed {
		dec, release, err := decodeContent(resp.Body, resp.Header)
		if err != nil {
			t.observe(method, time.Since(start), 0)
			return nil, err
		}
		defer release()
		src = dec
	}

	data, err := t.readBody(src)
	elapsed := time.Since(start)
	if err != nil {
		t.observe(method, elapsed, 0)
		return nil, err
	}
	t.observe(method, elapsed, resp.StatusCode)

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Elapsed:    elapsed,
	}, nil
}

func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	if t.maxResponseBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, t.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > t.maxResponseBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, t.maxResponseBytes)
	}
	return data, nil
}

// observe records upstream metrics. A zero status means the call failed.
func (t *Transport) observe(method string, d time.Duration, status int) {
	if t.metrics == nil {
		return
	}
	t.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	if status != 0 {
		t.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

// withParams merges params into the query of rawURL. Existing keys named in
// params are replaced.
func withParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeText converts body to a UTF-8 string using the charset parameter of
// contentType. Without a recognised charset the body is taken as UTF-8, with
// invalid sequences replaced.
func DecodeText(body []byte, contentType string) (string, error) {
	if label := charsetParam(contentType); label != "" && !strings.EqualFold(label, "utf-8") {
		if enc, _ := charset.Lookup(label); enc != nil {
			out, err := enc.NewDecoder().Bytes(body)
			if err != nil {
				return "", fmt.Errorf("decode %s body: %w", label, err)
			}
			return string(out), nil
		}
	}
	return strings.ToValidUTF8(string(body), "�"), nil
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
