package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

func newTestClient(t *testing.T, url string, temp *float64) *Client {
	t.Helper()
	c, err := NewClient(logger.Nop(), Config{
		APIKey:      "test",
		BaseURL:     url,
		Model:       "gpt-test",
		MaxRetries:  2,
		Temperature: temp,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

const okBody = `{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"score\":8}"}]}],"usage":{"input_tokens":10,"output_tokens":3}}`

func TestGenerateJSONRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL, nil).GenerateJSON(context.Background(), "sys", "user", "relevance", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(out) != `{"score":8}` {
		t.Fatalf("out=%s", out)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}

func TestGenerateJSONDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad schema"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).GenerateJSON(context.Background(), "sys", "user", "relevance", map[string]any{"type": "object"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestGenerateJSONDropsRejectedTemperature(t *testing.T) {
	var withTemp, withoutTemp int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["temperature"]; ok {
			atomic.AddInt32(&withTemp, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model."}}`)
			return
		}
		atomic.AddInt32(&withoutTemp, 1)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	temp := 0.2
	c := newTestClient(t, srv.URL, &temp)
	for i := 0; i < 2; i++ {
		if _, err := c.GenerateJSON(context.Background(), "sys", "user", "relevance", map[string]any{"type": "object"}); err != nil {
			t.Fatalf("GenerateJSON #%d: %v", i, err)
		}
	}
	if withTemp != 1 || withoutTemp != 2 {
		t.Fatalf("withTemp=%d withoutTemp=%d; model should be remembered as no-temperature", withTemp, withoutTemp)
	}
}

func TestGenerateJSONRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":[{"type":"message","role":"assistant","content":[{"type":"refusal","refusal":"no"}]}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).GenerateJSON(context.Background(), "sys", "user", "relevance", map[string]any{"type": "object"})
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected refusal error, got %v", err)
	}
}
