// Package browser abstracts the headless-browser capability used by the
// session prober. The service only needs a handful of primitives: load and
// clear cookies, navigate, and locate/click/type on selectors. Everything
// else about the automation engine stays behind this interface so probes can
// run against a fake in tests.
package browser

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned by Click and Type when the selector does not
// resolve to an element on the current page.
var ErrElementNotFound = errors.New("element not found")

// Cookie is one browser cookie as stored in an account's session blob.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
}

// Engine drives one isolated browser session. A session belongs to exactly
// one warranty run; Close must be called on every exit path.
type Engine interface {
	// ClearCookies removes all cookies from the session.
	ClearCookies(ctx context.Context) error

	// SetCookies installs the given cookies into the session.
	SetCookies(ctx context.Context, cookies []Cookie) error

	// Navigate loads url and returns the final URL after any redirects.
	Navigate(ctx context.Context, url string) (string, error)

	// Exists reports whether the selector resolves to an element.
	Exists(ctx context.Context, selector string) (bool, error)

	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string) error

	// Type types text into the element matching selector.
	Type(ctx context.Context, selector, text string) error

	// Close tears the session down. Safe to call more than once.
	Close(ctx context.Context) error
}

// Factory creates one Engine session per warranty run.
type Factory interface {
	NewEngine(ctx context.Context) (Engine, error)
}
