package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestShutdownManager_ClosersLIFO(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond}, nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("closed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("close order = %v, want %v", order, want)
			break
		}
	}
}

func TestShutdownManager_JoinsCloseErrors(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	sm.RegisterCloser("a", CloserFunc(func() error { return errA }))
	sm.RegisterCloser("b", CloserFunc(func() error { return errB }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("error = %v, want both close errors", err)
	}
	// Later calls report the first result without closing again.
	if again := sm.Shutdown(context.Background(), "again"); again != err {
		t.Errorf("second Shutdown = %v, want %v", again, err)
	}
}

func TestShutdownManager_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond}, nil)
	if !sm.TrackRequest() {
		t.Fatal("TrackRequest rejected before shutdown")
	}

	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Error("expected drain timeout with a request in flight")
	}
	if !sm.IsShuttingDown() {
		t.Error("IsShuttingDown = false after Shutdown")
	}
	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("shutdown channel not closed")
	}
}

func TestShutdownManager_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 2 * time.Second}, nil)
	sm.TrackRequest()

	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in flight = %d, want 0", sm.InFlightCount())
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond}, nil)
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sm.InFlightCount() != 1 {
			t.Errorf("in flight during request = %d, want 1", sm.InFlightCount())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	sm.Shutdown(context.Background(), "test")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After after shutdown")
	}
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ServeHTTP(ctx, srv, time.Second, zap.NewNop()) }()

	// Wait for the listener before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeHTTP returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ServeHTTP did not return after cancel")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad"}

	if err := ServeHTTP(context.Background(), srv, time.Second, zap.NewNop()); err == nil {
		t.Error("expected listen error")
	}
}
