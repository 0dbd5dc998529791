package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/campusagent/internal/tools"
)

func intPtr(n int) *int { return &n }

func TestClampResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   *int
		want int
	}{
		{"default", nil, 5},
		{"within range", intPtr(3), 3},
		{"above max", intPtr(25), 10},
		{"zero", intPtr(0), 1},
		{"negative", intPtr(-4), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := clampResults(tt.in); got != tt.want {
				t.Errorf("clampResults = %d, want %d", got, tt.want)
			}
		})
	}
}

func newSearchServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx" {
			http.Error(w, `{"error":{"code":403}}`, http.StatusForbidden)
			return
		}
		if q.Get("num") != "10" {
			t.Errorf("num = %q, want 10", q.Get("num"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"title":"SZTU","link":"https://www.sztu.edu.cn/","snippet":"Shenzhen Technology University","kind":"customsearch#result"},
			{"title":"Admissions","link":"https://zs.sztu.edu.cn/","snippet":"Undergraduate admissions"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestToolHandler(t *testing.T) {
	t.Parallel()

	srv := newSearchServer(t)
	s := New(Config{APIKey: "k", CSEID: "cx", Endpoint: srv.URL})

	out, err := s.Tool().Handler(context.Background(), map[string]any{"query": "sztu", "num_results": 50})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	results, ok := out.([]Result)
	if !ok {
		t.Fatalf("unexpected result type %T", out)
	}
	if len(results) != 2 || results[0].Link != "https://www.sztu.edu.cn/" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestToolHandler_InvalidArguments(t *testing.T) {
	t.Parallel()

	s := New(Config{APIKey: "k", CSEID: "cx"})
	_, err := s.Tool().Handler(context.Background(), map[string]any{"num_results": 2})
	if !errors.Is(err, tools.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestSearch_NotConfigured(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	if _, err := s.Search(context.Background(), "x", 5); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newSearchServer(t)
	s := New(Config{APIKey: "wrong", CSEID: "cx", Endpoint: srv.URL})
	if _, err := s.Search(context.Background(), "x", 10); err == nil {
		t.Fatal("expected error for forbidden response")
	}
}

func TestSearch_NoItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"searchInformation":{"totalResults":"0"}}`))
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", CSEID: "cx", Endpoint: srv.URL})
	got, err := s.Search(context.Background(), "nothing", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestSearch_TimeoutDoesNotLeakKey(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s := New(Config{
		APIKey:     "SECRET-KEY-123",
		CSEID:      "cx",
		Endpoint:   srv.URL,
		HTTPClient: &http.Client{Timeout: 50 * time.Millisecond},
	})
	_, err := s.Tool().Handler(context.Background(), map[string]any{"query": "library hours"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if strings.Contains(err.Error(), "SECRET-KEY-123") {
		t.Fatalf("API key present in error: %v", err)
	}
	if !strings.Contains(err.Error(), "key=REDACTED") {
		t.Errorf("error should still show the redacted request: %v", err)
	}
	var ue *url.Error
	if !errors.As(err, &ue) || !ue.Timeout() {
		t.Errorf("error should remain a timeout *url.Error: %v", err)
	}
}
