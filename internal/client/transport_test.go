package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"request-forwarder/internal/config"
	"request-forwarder/internal/metrics"
	"request-forwarder/internal/model"
)

func newTestTransport(m *metrics.Metrics) *Transport {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTransport(config.Default(), logger, m)
}

func TestTransport_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "go" {
			t.Errorf("query q = %q, want %q", got, "go")
		}
		if got := r.URL.Query().Get("keep"); got != "1" {
			t.Errorf("query keep = %q, want %q", got, "1")
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("X-Trace = %q, want %q", got, "abc")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("body = %q, want %q", body, `{"a":1}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	resp, err := tr.Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodPost,
		URL:     srv.URL + "/test?keep=1",
		Header:  http.Header{"X-Trace": {"abc"}},
		Params:  map[string]string{"q": "go"},
		Body:    []byte(`{"a":1}`),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"status":"ok"}`)
	}
	if resp.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", resp.Elapsed)
	}
}

func TestTransport_Do_NoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Errorf("ContentLength = %d, want no payload", r.ContentLength)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodDelete,
		URL:     srv.URL,
		Header:  http.Header{},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestTransport_Do_HostHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "virtual.example" {
			t.Errorf("Host = %q, want %q", r.Host, "virtual.example")
		}
	}))
	defer srv.Close()

	_, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Header:  http.Header{"Host": {"virtual.example"}},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestTransport_Do_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/next" {
			t.Error("redirect should not be followed")
		}
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Header:  http.Header{},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if resp.Header.Get("Location") != "/next" {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/next")
	}
}

func TestTransport_Do_Unreachable(t *testing.T) {
	_, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     "http://127.0.0.1:1/nonexistent",
		Header:  http.Header{},
		Timeout: 1 * time.Second,
	})
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
}

func TestTransport_Do_UnsupportedScheme(t *testing.T) {
	_, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     "ftp://example.com/file",
		Header:  http.Header{},
		Timeout: 1 * time.Second,
	})
	if err == nil {
		t.Fatal("Do() expected error for ftp scheme, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported protocol scheme") {
		t.Errorf("error = %q, want unsupported protocol scheme", err)
	}
}

func TestTransport_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestTransport(nil).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Header:  http.Header{},
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Do() expected timeout error, got nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Do() took %v, want it bounded by the timeout", time.Since(start))
	}
}

func TestTransport_Do_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	tr.maxResponseBytes = 16

	_, err := tr.Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Header:  http.Header{},
		Timeout: 5 * time.Second,
	})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Do() error = %v, want ErrResponseTooLarge", err)
	}
}

func TestTransport_Do_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := metrics.New()
	_, err := newTestTransport(m).Do(context.Background(), &model.OutboundRequest{
		Method:  http.MethodPut,
		URL:     srv.URL,
		Header:  http.Header{},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "request_forwarder_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == "PUT" && labels["status_code"] == "202" {
				return
			}
		}
	}
	t.Error("expected request_forwarder_upstream_responses_total{method=PUT,status_code=202}")
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		contentType string
		want        string
	}{
		{"plain utf-8", []byte("hello"), "text/plain", "hello"},
		{"explicit utf-8", []byte("héllo"), "text/plain; charset=utf-8", "héllo"},
		{"latin-1", []byte{'c', 'a', 'f', 0xe9}, "text/plain; charset=iso-8859-1", "café"},
		{"unknown charset", []byte("hi"), "text/plain; charset=bogus", "hi"},
		{"invalid utf-8 replaced", []byte{'a', 0xff, 'b'}, "", "a�b"},
		{"malformed content type", []byte("x"), ";;;", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.body, tt.contentType)
			if err != nil {
				t.Fatalf("DecodeText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithParams(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		params map[string]string
		want   string
	}{
		{"no params untouched", "http://x/a?b=2&a=1", nil, "http://x/a?b=2&a=1"},
		{"added", "http://x/a", map[string]string{"q": "a b"}, "http://x/a?q=a+b"},
		{"merged and replaced", "http://x/a?q=old&k=1", map[string]string{"q": "new"}, "http://x/a?k=1&q=new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := withParams(tt.raw, tt.params)
			if err != nil {
				t.Fatalf("withParams() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("withParams() = %q, want %q", got, tt.want)
			}
		})
	}
}
