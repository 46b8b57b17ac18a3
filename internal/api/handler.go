package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
	"github.com/slotshare/warranty/internal/warranty"
)

// Store is the persistence surface the HTTP layer needs.
type Store interface {
	GetToken(ctx context.Context, token string) (domain.APIToken, error)
	GetOrderOwner(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
	UpdateCredentialsByLogin(ctx context.Context, login, secret, session string) (orders, accounts int64, err error)
}

// Runner executes a warranty run to completion. The run outlives the HTTP
// request that started it.
type Runner interface {
	Run(ctx context.Context, orderID uuid.UUID) domain.RunOutcome
}

// Subscriptions hands out per-topic event channels for streaming.
type Subscriptions interface {
	Subscribe(topic string) (<-chan domain.ProgressEvent, func())
}

// HealthChecker reports one component's reachability for verbose /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name  string
	check HealthChecker
}

// defaultHeartbeat is how often an idle stream gets a keepalive comment.
const defaultHeartbeat = 15 * time.Second

type Handler struct {
	store     Store
	runner    Runner
	subs      Subscriptions
	heartbeat time.Duration
	checks    []namedCheck
	baseCtx   context.Context

	// active guards against starting two runs for the same order: a second
	// stream request attaches to the running one instead.
	mu     sync.Mutex
	active map[uuid.UUID]*runHandle
}

// runHandle tracks one detached run. done is closed after the run finished
// and the order was removed from the active set, so a stream seeing done can
// safely dispatch a fresh run.
type runHandle struct {
	done chan struct{}
}

func NewHandler(store Store, runner Runner, subs Subscriptions) *Handler {
	return &Handler{
		store:     store,
		runner:    runner,
		subs:      subs,
		heartbeat: defaultHeartbeat,
		baseCtx:   context.Background(),
		active:    make(map[uuid.UUID]*runHandle),
	}
}

// WithHeartbeat overrides the stream keepalive interval.
func (h *Handler) WithHeartbeat(d time.Duration) *Handler {
	h.heartbeat = d
	return h
}

// WithHealthCheck registers a component for verbose /health responses.
func (h *Handler) WithHealthCheck(name string, check HealthChecker) *Handler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// WithBaseContext sets the context runs are detached onto. Runs started by a
// stream request must survive the client disconnecting, so they run under
// this context (normally the process lifetime), not the request's.
func (h *Handler) WithBaseContext(ctx context.Context) *Handler {
	h.baseCtx = ctx
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case strings.HasSuffix(path, "/warranty/stream") && r.Method == http.MethodGet:
		h.stream(w, r)

	case path == "/accounts/propagate" && r.Method == http.MethodPost:
		h.propagate(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.check.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[c.name] = "unhealthy: " + err.Error()
			continue
		}
		resp.Components[c.name] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// stream handles GET /orders/{id}/warranty/stream?token=...
//
// It authorizes the caller, subscribes to the order's progress topic, starts
// a run if none is active for the order, and streams events until the run
// finishes or the client goes away. Disconnecting only drops the stream; the
// run itself continues to completion in the background.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	// Extract order ID from path: /orders/{id}/warranty/stream
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "orders" || parts[2] != "warranty" || parts[3] != "stream" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	orderID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	tok, ok := h.authorize(w, r)
	if !ok {
		return
	}

	owner, err := h.store.GetOrderOwner(r.Context(), orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		log.Printf("api: get order owner: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	if !tok.Admin && tok.CustomerID != owner {
		writeError(w, http.StatusForbidden, "order belongs to another customer")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before starting the run so the first event cannot be missed.
	events, unsubscribe := h.subs.Subscribe(warranty.Topic(orderID))
	defer unsubscribe()

	handle := h.startRun(orderID)

	sse := newSSEWriter(w, flusher)
	sse.writeHeaders()
	if err := sse.comment("connected"); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected. Unsubscribe (deferred) and stop writing.
			return

		case ev := <-events:
			if err := sse.event(ev); err != nil {
				log.Printf("api: stream write order=%s: %v", orderID, err)
				return
			}
			if ev.Terminal {
				return
			}

		case <-handle.done:
			// The run finished; everything it published is already buffered
			// on this subscription. Drain the buffer, and if the terminal
			// event is not in it this stream attached after it went out, so
			// dispatch a fresh run instead of waiting forever.
			for drained := false; !drained; {
				select {
				case ev := <-events:
					if err := sse.event(ev); err != nil {
						return
					}
					if ev.Terminal {
						return
					}
				default:
					drained = true
				}
			}
			handle = h.startRun(orderID)

		case <-ticker.C:
			if err := sse.comment("ping"); err != nil {
				return
			}
		}
	}
}

// startRun launches a warranty run for orderID unless one is already active,
// in which case the active run's handle is returned. The order leaves the
// active set before done is closed, so a caller woken by done can start a
// new run immediately.
func (h *Handler) startRun(orderID uuid.UUID) *runHandle {
	h.mu.Lock()
	if handle, running := h.active[orderID]; running {
		h.mu.Unlock()
		return handle
	}
	handle := &runHandle{done: make(chan struct{})}
	h.active[orderID] = handle
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.active, orderID)
			h.mu.Unlock()
			close(handle.done)
		}()
		h.runner.Run(h.baseCtx, orderID)
	}()
	return handle
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// propagate handles POST /accounts/propagate. Admin only: pushes a changed
// secret and session blob to every order and pooled account on a login.
func (h *Handler) propagate(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if !tok.Admin {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}

	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req PropagateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validatePropagate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, accounts, err := h.store.UpdateCredentialsByLogin(r.Context(), req.Login, req.Secret, req.Session)
	if err != nil {
		log.Printf("api: propagate credentials login=%s: %v", req.Login, err)
		writeError(w, http.StatusInternalServerError, "failed to propagate credentials")
		return
	}

	log.Printf("api: propagated credentials login=%s orders=%d accounts=%d", req.Login, orders, accounts)
	writeJSON(w, http.StatusOK, PropagateResponse{
		OrdersUpdated:   orders,
		AccountsUpdated: accounts,
	})
}

// authorize resolves the request's token. On failure it writes the error
// response itself and returns ok=false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (domain.APIToken, bool) {
	raw := extractToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "token required")
		return domain.APIToken{}, false
	}

	tok, err := h.store.GetToken(r.Context(), raw)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return domain.APIToken{}, false
		}
		log.Printf("api: token lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to verify token")
		return domain.APIToken{}, false
	}

	return tok, true
}

// extractToken reads the token from the Authorization header or, because
// EventSource cannot set headers, from the ?token= query parameter.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
