package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultCallTimeout matches the BROWSER_CALL_TIMEOUT config default.
const defaultCallTimeout = 15 * time.Second

// RemoteFactory creates sessions against a browser-automation sidecar
// (one container running the real browser, exposed over HTTP). Each session
// is an isolated browser context identified by the id the sidecar returns.
type RemoteFactory struct {
	baseURL     string
	client      *http.Client
	callTimeout time.Duration
}

// NewRemoteFactory creates a factory for the sidecar at baseURL
// (e.g. "http://browser:3000").
func NewRemoteFactory(baseURL string) *RemoteFactory {
	return &RemoteFactory{
		baseURL:     baseURL,
		client:      &http.Client{},
		callTimeout: defaultCallTimeout,
	}
}

// WithCallTimeout overrides the per-call timeout.
func (f *RemoteFactory) WithCallTimeout(d time.Duration) *RemoteFactory {
	f.callTimeout = d
	return f
}

// BaseURL returns the sidecar address. Used as the circuit breaker key.
func (f *RemoteFactory) BaseURL() string {
	return f.baseURL
}

// Ping checks that the sidecar is reachable. Used by the health endpoint.
func (f *RemoteFactory) Ping(ctx context.Context) error {
	return f.call(ctx, http.MethodGet, "/health", nil, nil)
}

func (f *RemoteFactory) NewEngine(ctx context.Context) (Engine, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := f.call(ctx, http.MethodPost, "/sessions", nil, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("create session: sidecar returned empty session id")
	}
	return &remoteEngine{factory: f, sessionID: resp.SessionID}, nil
}

// call posts a JSON body to the sidecar and decodes the JSON response.
// A nil out discards the response body.
func (f *RemoteFactory) call(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrElementNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sidecar status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type remoteEngine struct {
	factory   *RemoteFactory
	sessionID string
}

func (e *remoteEngine) path(suffix string) string {
	return "/sessions/" + e.sessionID + suffix
}

func (e *remoteEngine) ClearCookies(ctx context.Context) error {
	return e.factory.call(ctx, http.MethodDelete, e.path("/cookies"), nil, nil)
}

func (e *remoteEngine) SetCookies(ctx context.Context, cookies []Cookie) error {
	body := struct {
		Cookies []Cookie `json:"cookies"`
	}{Cookies: cookies}
	return e.factory.call(ctx, http.MethodPost, e.path("/cookies"), body, nil)
}

func (e *remoteEngine) Navigate(ctx context.Context, url string) (string, error) {
	body := struct {
		URL string `json:"url"`
	}{URL: url}
	var resp struct {
		URL string `json:"url"`
	}
	if err := e.factory.call(ctx, http.MethodPost, e.path("/navigate"), body, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (e *remoteEngine) Exists(ctx context.Context, selector string) (bool, error) {
	body := struct {
		Selector string `json:"selector"`
	}{Selector: selector}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := e.factory.call(ctx, http.MethodPost, e.path("/exists"), body, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (e *remoteEngine) Click(ctx context.Context, selector string) error {
	body := struct {
		Selector string `json:"selector"`
	}{Selector: selector}
	return e.factory.call(ctx, http.MethodPost, e.path("/click"), body, nil)
}

func (e *remoteEngine) Type(ctx context.Context, selector, text string) error {
	body := struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}{Selector: selector, Text: text}
	return e.factory.call(ctx, http.MethodPost, e.path("/type"), body, nil)
}

func (e *remoteEngine) Close(ctx context.Context) error {
	return e.factory.call(ctx, http.MethodDelete, e.path(""), nil, nil)
}

var _ Engine = (*remoteEngine)(nil)
var _ Factory = (*RemoteFactory)(nil)
