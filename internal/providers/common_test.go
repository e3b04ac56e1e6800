package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRetryAfter_ParsesSeconds(t *testing.T) {
	got := ParseRetryAfter("5")
	if got != 5*time.Second {
		t.Errorf("got %v, want 5s", got)
	}
}

func TestParseRetryAfter_EmptyReturnsZero(t *testing.T) {
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestParseRetryAfter_UnparsableReturnsZero(t *testing.T) {
	if got := ParseRetryAfter("not-a-duration"); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestHTTPError_RetryableFor429And5xx(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: tt.status}
		if got := e.retryable(); got != tt.want {
			t.Errorf("retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRetryDo_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	result, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryDo_RetriesTransientErrorThenSucceeds(t *testing.T) {
	calls := 0
	result, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 2 {
			return "", &HTTPError{Status: 503}
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %q", result)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryDo_NonRetryableHTTPErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		calls++
		return "", &HTTPError{Status: 400}
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable errors must not retry)", calls)
	}
}

func TestRetryDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		calls++
		return "", &HTTPError{Status: 503}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryDo(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}, func() (string, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return "", &HTTPError{Status: 503}
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCleanSchemaForProvider_NilSchemaReturnsEmptyObject(t *testing.T) {
	got := CleanSchemaForProvider("anthropic", nil)
	if got["type"] != "object" {
		t.Errorf("expected a default object schema, got %+v", got)
	}
}

func TestCleanSchemaForProvider_StripsSchemaKeywords(t *testing.T) {
	in := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"$id":     "x",
		"title":   "My Schema",
		"type":    "object",
	}
	got := CleanSchemaForProvider("anthropic", in)
	for _, k := range []string{"$schema", "$id", "title"} {
		if _, ok := got[k]; ok {
			t.Errorf("expected %q to be stripped", k)
		}
	}
	if got["type"] != "object" {
		t.Error("expected type to survive")
	}
}

func TestCleanSchemaForProvider_StripsFormatForGemini(t *testing.T) {
	in := map[string]interface{}{"type": "string", "format": "date-time"}
	got := CleanSchemaForProvider("gemini", in)
	if _, ok := got["format"]; ok {
		t.Error("expected format to be stripped for gemini")
	}
}

func TestCleanSchemaForProvider_KeepsFormatForOtherProviders(t *testing.T) {
	in := map[string]interface{}{"type": "string", "format": "date-time"}
	got := CleanSchemaForProvider("anthropic", in)
	if got["format"] != "date-time" {
		t.Error("expected format to be preserved for non-gemini providers")
	}
}

func TestCleanSchemaForProvider_RecursesIntoNestedSchemas(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"nested": map[string]interface{}{"$schema": "x", "type": "string"},
		},
	}
	got := CleanSchemaForProvider("anthropic", in)
	nested := got["properties"].(map[string]interface{})["nested"].(map[string]interface{})
	if _, ok := nested["$schema"]; ok {
		t.Error("expected nested schema keywords to be stripped too")
	}
}

func TestCleanToolSchemas_BuildsFunctionWireShape(t *testing.T) {
	tools := []ToolDefinition{
		{Type: "function", Function: ToolFunctionSchema{
			Name:        "read",
			Description: "read a file",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	}
	got := CleanToolSchemas("anthropic", tools)
	if len(got) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(got))
	}
	fn := got[0]["function"].(map[string]interface{})
	if fn["name"] != "read" {
		t.Errorf("name = %v, want read", fn["name"])
	}
}

func TestEmbedViaOpenAICompatible_ReturnsEmbeddingVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected Authorization header: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	vec, err := embedViaOpenAICompatible(context.Background(), srv.Client(), srv.URL, "test-key", "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedViaOpenAICompatible_HTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := embedViaOpenAICompatible(context.Background(), srv.Client(), srv.URL, "bad-key", "model", "hello")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("expected *HTTPError, got %T", err)
	}
}

func TestEmbedViaOpenAICompatible_EmptyResponseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := embedViaOpenAICompatible(context.Background(), srv.Client(), srv.URL, "key", "model", "hello")
	if err == nil {
		t.Error("expected an error for an empty embedding response")
	}
}
