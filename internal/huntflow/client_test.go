package huntflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestClientGet_DecodesPage(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":1},{"id":2}],"total":42,"total_pages":21,"page":1}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 7, "secret", WithRateLimit(0, 0))
	page, err := client.Get(context.Background(), "applicants", url.Values{"count": {"2"}, "page": {"1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/v2/accounts/7/applicants" {
		t.Fatalf("expected account path, got %q", gotPath)
	}
	if gotQuery != "count=2&page=1" {
		t.Fatalf("expected encoded params, got %q", gotQuery)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.Total == nil || *page.Total != 42 {
		t.Fatalf("expected total 42, got %v", page.Total)
	}
	if page.TotalPages == nil || *page.TotalPages != 21 {
		t.Fatalf("expected total_pages 21, got %v", page.TotalPages)
	}
}

func TestClientGet_MissingTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, 1, "").Get(context.Background(), "coworkers", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != nil {
		t.Fatalf("expected absent total, got %d", *page.Total)
	}
}

func TestClientGet_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"type":"not_found"}]}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 1, "t").Get(context.Background(), "vacancies", nil)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", fetchErr.Status)
	}
	if fetchErr.Path != "/v2/accounts/1/vacancies" {
		t.Fatalf("expected path in error, got %q", fetchErr.Path)
	}
}

func TestClientGet_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 1, "t").Get(context.Background(), "divisions", nil)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestClientGet_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, 1, "t", WithTimeout(50*time.Millisecond))
	_, err := client.Get(context.Background(), "applicants", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
