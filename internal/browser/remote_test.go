package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeSidecar records requests and serves canned responses.
type fakeSidecar struct {
	mu       sync.Mutex
	requests []string
	navURL   string
}

func (f *fakeSidecar) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})
	mux.HandleFunc("/sessions/s1/navigate", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"url": f.navURL})
	})
	mux.HandleFunc("/sessions/s1/cookies", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sessions/s1/click", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/sessions/s1/exists", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"exists": true})
	})
	mux.HandleFunc("/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		f.record(r.Method + " " + r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeSidecar) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, s)
}

func (f *fakeSidecar) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func TestRemoteEngine_SessionLifecycle(t *testing.T) {
	sidecar := &fakeSidecar{navURL: "https://example.com/account"}
	srv := httptest.NewServer(sidecar.handler())
	defer srv.Close()

	factory := NewRemoteFactory(srv.URL)
	ctx := context.Background()

	engine, err := factory.NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := engine.ClearCookies(ctx); err != nil {
		t.Fatalf("ClearCookies: %v", err)
	}
	if err := engine.SetCookies(ctx, []Cookie{{Name: "a", Value: "b", Domain: ".example.com"}}); err != nil {
		t.Fatalf("SetCookies: %v", err)
	}

	finalURL, err := engine.Navigate(ctx, "https://example.com/login")
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if finalURL != "https://example.com/account" {
		t.Errorf("Navigate url = %q, want %q", finalURL, "https://example.com/account")
	}

	exists, err := engine.Exists(ctx, "#pin")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists = false, want true")
	}

	if err := engine.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sidecar.recorded()
	want := []string{
		"POST /sessions",
		"DELETE /sessions/s1/cookies",
		"POST /sessions/s1/cookies",
		"POST /sessions/s1/navigate",
		"POST /sessions/s1/exists",
		"DELETE /sessions/s1",
	}
	if len(got) != len(want) {
		t.Fatalf("recorded %d requests, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRemoteEngine_MissingElement(t *testing.T) {
	sidecar := &fakeSidecar{}
	srv := httptest.NewServer(sidecar.handler())
	defer srv.Close()

	factory := NewRemoteFactory(srv.URL)
	ctx := context.Background()

	engine, err := factory.NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	err = engine.Click(ctx, "#missing")
	if err != ErrElementNotFound {
		t.Errorf("Click error = %v, want ErrElementNotFound", err)
	}
}

func TestRemoteFactory_CallTimeoutDefaults(t *testing.T) {
	f := NewRemoteFactory("http://browser:3000")
	if f.callTimeout != 15*time.Second {
		t.Errorf("default call timeout = %s, want 15s", f.callTimeout)
	}
	if f.WithCallTimeout(30*time.Second).callTimeout != 30*time.Second {
		t.Error("WithCallTimeout did not override the default")
	}
}

func TestRemoteFactory_SidecarDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse connections

	factory := NewRemoteFactory(srv.URL)
	if _, err := factory.NewEngine(context.Background()); err == nil {
		t.Fatal("NewEngine succeeded against a closed server")
	}
}
