package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"p1","ign":"Alice"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second, 2)
	records, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].IGN != "Alice" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second, 3)
	_, err := c.Fetch(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx, got %d", attempts)
	}
}

func TestFetchServerErrorRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"p1","ign":"Alice"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second, 5)
	records, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record once the server recovers, got %d", len(records))
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetchEmptyArrayIsRetryableFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second, 2)
	_, err := c.Fetch(context.Background())
	if err == nil {
		t.Fatalf("expected an empty array to be treated as a failure")
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected maxRetries+1 attempts for a persistently empty feed, got %d", attempts)
	}
}

func TestFetchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, 2*time.Second, 5)
	_, err := c.Fetch(ctx)
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
