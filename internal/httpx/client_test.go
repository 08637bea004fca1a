package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Fetch_ReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	c := New(Options{})

	body, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer body.Close()

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}

	if string(got) != "artifact-bytes" {
		t.Fatalf("got body %q, want %q", got, "artifact-bytes")
	}
}

func TestClient_Fetch_FollowsRedirects(t *testing.T) {
	t.Parallel()

	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved-here"))
	}))
	defer final.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer srv.Close()

	c := New(Options{})

	body, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer body.Close()

	got, _ := io.ReadAll(body)
	if string(got) != "moved-here" {
		t.Fatalf("got body %q, want %q", got, "moved-here")
	}
}

func TestClient_Fetch_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Options{})

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got error %v, want ErrNotFound", err)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StatusError", err)
	}

	if !se.Permanent() {
		t.Fatal("a 404 should be permanent")
	}
}

func TestClient_Fetch_Forbidden(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := New(Options{})

		_, err := c.Fetch(context.Background(), srv.URL)
		srv.Close()

		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("status %d: got error %v, want ErrForbidden", code, err)
		}
	}
}

func TestClient_Fetch_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Options{})

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("got error %v, want ErrServer", err)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StatusError", err)
	}

	if se.Permanent() {
		t.Fatal("a 503 should not be permanent")
	}
}

func TestClient_Fetch_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(Options{})

	_, err := c.Fetch(ctx, srv.URL)
	if err == nil {
		t.Fatal("expected an error from a canceled fetch")
	}
}
