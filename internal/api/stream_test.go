package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
	"github.com/slotshare/warranty/internal/testutil"
	"github.com/slotshare/warranty/internal/warranty"
)

// publishEvents makes the fake runner emit a scripted event sequence on the
// order's topic, mimicking the orchestrator's publish-then-return shape.
func publishEvents(registry interface {
	Publish(ctx context.Context, topic string, event domain.ProgressEvent) error
}, events []domain.ProgressEvent) func(ctx context.Context, orderID uuid.UUID) domain.RunOutcome {
	return func(ctx context.Context, orderID uuid.UUID) domain.RunOutcome {
		runID := uuid.New()
		for _, ev := range events {
			ev.RunID = runID
			ev.OrderID = orderID
			ev.CreatedAt = time.Now().UTC()
			_ = registry.Publish(ctx, warranty.Topic(orderID), ev)
		}
		return domain.OutcomeReplaced
	}
}

// readSSE collects event-name/payload pairs and comments from a stream body.
func readSSE(t *testing.T, body io.Reader) (events []StreamEvent, names, comments []string) {
	t.Helper()
	scanner := bufio.NewScanner(body)
	var current string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ": "):
			comments = append(comments, strings.TrimPrefix(line, ": "))
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad event payload %q: %v", line, err)
			}
			events = append(events, ev)
			names = append(names, current)
		}
	}
	return events, names, comments
}

func TestStream_DeliversRunToCompletion(t *testing.T) {
	h, _, runner, registry, orderID := newTestHandler(t)
	runner.run = publishEvents(registry, []domain.ProgressEvent{
		{Message: "checking your current account"},
		{Message: "current account is dead, searching for a replacement"},
		{Message: "replacement installed", Terminal: true, Outcome: domain.OutcomeReplaced},
	})

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/" + orderID.String() + "/warranty/stream?token=" + customerToken)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The handler closes the stream after the terminal event, so reading to
	// EOF terminates.
	events, names, comments := readSSE(t, resp.Body)

	if len(comments) == 0 || comments[0] != "connected" {
		t.Errorf("comments = %v, want leading connected", comments)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantNames := []string{eventProgress, eventProgress, eventDone}
	for i, want := range wantNames {
		if names[i] != want {
			t.Errorf("event %d name = %q, want %q", i, names[i], want)
		}
	}
	if events[2].Outcome != string(domain.OutcomeReplaced) {
		t.Errorf("done outcome = %q, want %q", events[2].Outcome, domain.OutcomeReplaced)
	}
	if events[0].OrderID != orderID.String() {
		t.Errorf("event order id = %q, want %q", events[0].OrderID, orderID)
	}

	if runner.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.callCount())
	}
}

func TestStream_ClientDisconnectUnsubscribes(t *testing.T) {
	h, _, runner, registry, orderID := newTestHandler(t)

	// The run publishes one event and then keeps going long after the
	// client has gone away.
	release := make(chan struct{})
	runner.run = func(ctx context.Context, id uuid.UUID) domain.RunOutcome {
		_ = registry.Publish(ctx, warranty.Topic(id), domain.ProgressEvent{
			RunID:     uuid.New(),
			OrderID:   id,
			Message:   "checking your current account",
			CreatedAt: time.Now().UTC(),
		})
		<-release
		return domain.OutcomeStillAlive
	}
	defer close(release)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/orders/"+orderID.String()+"/warranty/stream?token="+customerToken, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	// Wait for the first event so the subscription is known to be live.
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	if got := registry.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1 before disconnect", got)
	}

	// Drop the client. The handler must notice and unsubscribe.
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not removed after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Later publishes on the topic are a silent no-op, not an error.
	err = registry.Publish(context.Background(), warranty.Topic(orderID), domain.ProgressEvent{
		RunID: uuid.New(), OrderID: orderID, Message: "still going", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("Publish after disconnect: %v", err)
	}
}

// A stream that attaches after a run published its terminal event, but
// before the run's goroutine finished its post-publish bookkeeping, must not
// hang on heartbeats forever: it gets a fresh run of its own.
func TestStream_AttachDuringRunTeardownGetsFreshRun(t *testing.T) {
	h, _, runner, registry, orderID := newTestHandler(t)

	// The first run publishes its terminal event and then lingers before
	// returning, holding the order in the active set.
	release := make(chan struct{})
	runner.run = func(ctx context.Context, id uuid.UUID) domain.RunOutcome {
		_ = registry.Publish(ctx, warranty.Topic(id), domain.ProgressEvent{
			RunID:     uuid.New(),
			OrderID:   id,
			Message:   "your account is still working, no replacement needed",
			Terminal:  true,
			Outcome:   domain.OutcomeStillAlive,
			CreatedAt: time.Now().UTC(),
		})
		if runner.callCount() == 1 {
			<-release
		}
		return domain.OutcomeStillAlive
	}

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := srv.URL + "/orders/" + orderID.String() + "/warranty/stream?token=" + customerToken

	// First client starts the run and sees it through.
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	_, names, _ := readSSE(t, resp.Body)
	resp.Body.Close()
	if len(names) != 1 || names[0] != eventDone {
		t.Fatalf("first client got %v, want one done event", names)
	}

	// Second client attaches while the first run is still registered as
	// active even though its terminal event already went out.
	resp2, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET second stream: %v", err)
	}
	defer resp2.Body.Close()

	reader := bufio.NewReader(resp2.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read second stream: %v", err)
		}
		if strings.TrimSpace(line) == ": connected" {
			break
		}
	}

	// Let the lingering run return. The second stream must notice and
	// dispatch a run of its own rather than wait for events that will
	// never come.
	close(release)

	_, names2, _ := readSSE(t, reader)
	if len(names2) != 1 || names2[0] != eventDone {
		t.Fatalf("second client got %v, want one done event", names2)
	}
	if runner.callCount() != 2 {
		t.Errorf("runner calls = %d, want 2 (fresh run for the late stream)", runner.callCount())
	}
}

// brokenWriter fails every body write, like a client that vanished between
// the response headers and the first byte.
type brokenWriter struct {
	header http.Header
}

func newBrokenWriter() *brokenWriter              { return &brokenWriter{header: make(http.Header)} }
func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(int)           {}
func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (w *brokenWriter) Flush()                    {}

func TestStream_UnwritableClientEndsStream(t *testing.T) {
	h, _, runner, _, orderID := newTestHandler(t)
	h.WithHeartbeat(time.Hour)

	release := make(chan struct{})
	runner.run = func(ctx context.Context, id uuid.UUID) domain.RunOutcome {
		<-release
		return domain.OutcomeStillAlive
	}
	defer close(release)

	req := httptest.NewRequest(http.MethodGet,
		"/orders/"+orderID.String()+"/warranty/stream?token="+customerToken, nil)

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(newBrokenWriter(), req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running against a client that cannot be written to")
	}
}

func TestStream_HeartbeatKeepsIdleStreamAlive(t *testing.T) {
	h, _, runner, _, orderID := newTestHandler(t)
	h.WithHeartbeat(20 * time.Millisecond)

	// Run that never publishes anything.
	release := make(chan struct{})
	runner.run = func(ctx context.Context, id uuid.UUID) domain.RunOutcome {
		<-release
		return domain.OutcomeStillAlive
	}
	defer close(release)

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequestWithContext(testutil.TestContext(t), http.MethodGet,
		srv.URL+"/orders/"+orderID.String()+"/warranty/stream?token="+customerToken, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("no ping before stream ended: %v", err)
		}
		if strings.TrimSpace(line) == ": ping" {
			return
		}
	}
}
