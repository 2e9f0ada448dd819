package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewHTTPClient(Config{Endpoint: "http://localhost:1"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.config.Timeout)
	}
	if client.config.MaxConcurrent != 4 {
		t.Errorf("Expected default concurrency 4, got %d", client.config.MaxConcurrent)
	}
}

func TestHTTPClientTranscribe(t *testing.T) {
	var gotAuth, gotFormat, gotRate string
	var gotBytes int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFormat = r.FormValue("format")
		gotRate = r.FormValue("sample_rate")

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotBytes = len(data)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  Hello there.  "}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(Config{Endpoint: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	result, err := client.Transcribe(context.Background(), make([]int16, 1600))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "Hello there." {
		t.Errorf("Expected trimmed text, got %q", result.Text)
	}
	if !result.ClauseReady {
		t.Error("Expected ClauseReady for non-empty text")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotFormat != "pcm_s16le" {
		t.Errorf("Expected pcm_s16le format, got %q", gotFormat)
	}
	if gotRate != "16000" {
		t.Errorf("Expected sample rate 16000, got %q", gotRate)
	}
	if gotBytes != 3200 {
		t.Errorf("Expected 3200 bytes of audio, got %d", gotBytes)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHTTPClientEmptyTextNotClauseReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"   "}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(Config{Endpoint: server.URL})
	defer client.Close()

	result, err := client.Transcribe(context.Background(), make([]int16, 320))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.ClauseReady {
		t.Error("Empty text must not be clause ready")
	}
}

func TestHTTPClientRetries(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"finally"}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(Config{
		Endpoint:     server.URL,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	defer client.Close()

	result, err := client.Transcribe(context.Background(), make([]int16, 320))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "finally" {
		t.Errorf("Expected text after retries, got %q", result.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
	if client.GetStats().TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", client.GetStats().TotalRetries)
	}
}

func TestHTTPClientNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := NewHTTPClient(Config{
		Endpoint:     server.URL,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	defer client.Close()

	_, err := client.Transcribe(context.Background(), make([]int16, 320))
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}

	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusBadRequest {
		t.Errorf("Expected wrapped status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", calls.Load())
	}
	if client.GetStats().FailedRequests != 1 {
		t.Error("Expected failed request to be counted")
	}
}

func TestHTTPClientEmptySnapshot(t *testing.T) {
	client, _ := NewHTTPClient(Config{Endpoint: "http://localhost:1"})
	defer client.Close()

	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Error("Expected error for empty snapshot")
	}
}

func TestHTTPFactorySharesClient(t *testing.T) {
	factory := HTTPFactory(Config{Endpoint: "http://localhost:1", MaxConcurrent: 2})

	a, err := factory()
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	b, err := factory()
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}

	sa, sb := a.(*sharedClient), b.(*sharedClient)
	if sa.HTTPClient != sb.HTTPClient {
		t.Fatal("Expected workers to share one client")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// A second Close on the same handle must not release another reference
	a.Close()

	c, err := factory()
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	if c.(*sharedClient).HTTPClient != sb.HTTPClient {
		t.Error("Expected client to stay alive while a worker holds it")
	}

	b.Close()
	c.Close()

	d, err := factory()
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	defer d.Close()
	if d.(*sharedClient).HTTPClient == sb.HTTPClient {
		t.Error("Expected a fresh client after the last release")
	}
}

func TestHTTPFactoryRejectsBadConfig(t *testing.T) {
	if _, err := HTTPFactory(Config{})(); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "server error", err: &statusError{code: 502}, expected: true},
		{name: "rate limited", err: &statusError{code: 429}, expected: true},
		{name: "not found", err: &statusError{code: 404}, expected: false},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "plain error", err: errors.New("failed to parse response JSON"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestNewWhisperRequiresModel(t *testing.T) {
	if _, err := NewWhisper(WhisperConfig{}); err == nil {
		t.Error("Expected error without a model")
	}
}
