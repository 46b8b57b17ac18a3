// Package probe decides whether a stored account session still grants
// authenticated access, by driving a browser session through the provider's
// account pages. Probes never return errors: every internal failure is
// logged and reported as a false result, so a probe outcome is always a
// plain boolean the orchestrator can act on.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/slotshare/warranty/internal/browser"
	"github.com/slotshare/warranty/internal/circuitbreaker"
)

// Pages and selectors for the provider's account UI. The final URL after
// navigating to accountURL distinguishes a live session (stays on the
// account page) from a dead one (redirected to login).
const (
	accountURL = "https://www.netflix.com/YourAccount"
	lockURL    = "https://www.netflix.com/settings/lock/"

	selectorLockCreate      = `[data-uia="profile-lock-page+add-button"]`
	selectorLockEdit        = `[data-uia="profile-lock-page+edit-button"]`
	selectorPasswordInput   = `[data-uia="collect-password-input"]`
	selectorPasswordConfirm = `[data-uia="collect-password-continue"]`
)

const defaultStepDelay = 1 * time.Second

// Check names for metrics.
const (
	CheckSession     = "session"
	CheckCredentials = "credentials"
)

// MetricsSink records probe outcomes. Methods must be non-blocking.
type MetricsSink interface {
	ProbeCompleted(check string, ok bool, duration time.Duration)
}

// Prober runs liveness checks against stored sessions. One browser session
// is created per check and closed on every exit path.
type Prober struct {
	factory   browser.Factory
	breaker   *circuitbreaker.CircuitBreaker // optional, nil = disabled
	endpoint  string                         // breaker key
	metrics   MetricsSink                    // optional, nil = disabled
	stepDelay time.Duration
}

func New(factory browser.Factory) *Prober {
	return &Prober{
		factory:   factory,
		stepDelay: defaultStepDelay,
	}
}

// WithBreaker guards engine calls with a circuit breaker keyed by endpoint.
func (p *Prober) WithBreaker(cb *circuitbreaker.CircuitBreaker, endpoint string) *Prober {
	p.breaker = cb
	p.endpoint = endpoint
	return p
}

// WithMetrics attaches a metrics sink.
func (p *Prober) WithMetrics(sink MetricsSink) *Prober {
	p.metrics = sink
	return p
}

// WithStepDelay overrides the fixed wait applied after clicks, letting the
// page settle before the next element lookup.
func (p *Prober) WithStepDelay(d time.Duration) *Prober {
	p.stepDelay = d
	return p
}

// CheckSession reports whether the session blob's cookies still grant
// authenticated access: it loads them into a fresh browser context and
// checks that navigating to the account page does not redirect away.
func (p *Prober) CheckSession(ctx context.Context, session string) bool {
	start := time.Now()
	ok := p.checkSession(ctx, session)
	if p.metrics != nil {
		p.metrics.ProbeCompleted(CheckSession, ok, time.Since(start))
	}
	return ok
}

func (p *Prober) checkSession(ctx context.Context, session string) bool {
	engine, err := p.newEngine(ctx)
	if err != nil {
		log.Printf("probe: session check: engine unavailable: %v", err)
		return false
	}
	defer engine.Close(context.WithoutCancel(ctx))

	if err := p.loadCookies(ctx, engine, session); err != nil {
		log.Printf("probe: session check: load cookies: %v", err)
		return false
	}

	finalURL, err := engine.Navigate(ctx, accountURL)
	if err != nil {
		p.recordFailure()
		log.Printf("probe: session check: navigate: %v", err)
		return false
	}
	p.recordSuccess()

	return strings.HasPrefix(finalURL, accountURL)
}

// ConfirmCredentials is the stronger liveness check: with the session's
// cookies loaded it opens the profile-lock settings, activates the create or
// edit control (exactly one is expected to be present; neither is a hard
// failure), and if the UI asks for the account password re-enters the given
// secret and confirms. Success means the flow completed without a required
// element going missing.
func (p *Prober) ConfirmCredentials(ctx context.Context, session, secret string) bool {
	start := time.Now()
	ok := p.confirmCredentials(ctx, session, secret)
	if p.metrics != nil {
		p.metrics.ProbeCompleted(CheckCredentials, ok, time.Since(start))
	}
	return ok
}

func (p *Prober) confirmCredentials(ctx context.Context, session, secret string) bool {
	engine, err := p.newEngine(ctx)
	if err != nil {
		log.Printf("probe: credential check: engine unavailable: %v", err)
		return false
	}
	defer engine.Close(context.WithoutCancel(ctx))

	if err := p.loadCookies(ctx, engine, session); err != nil {
		log.Printf("probe: credential check: load cookies: %v", err)
		return false
	}

	if _, err := engine.Navigate(ctx, lockURL); err != nil {
		p.recordFailure()
		log.Printf("probe: credential check: navigate: %v", err)
		return false
	}
	p.recordSuccess()

	clicked, err := p.clickFirst(ctx, engine, selectorLockCreate, selectorLockEdit)
	if err != nil {
		log.Printf("probe: credential check: lock control: %v", err)
		return false
	}
	if !clicked {
		log.Printf("probe: credential check: neither create nor edit lock control present")
		return false
	}

	if err := p.settle(ctx); err != nil {
		return false
	}

	// The password prompt only appears when the provider wants the secret
	// re-confirmed. Its absence is not a failure.
	present, err := engine.Exists(ctx, selectorPasswordInput)
	if err != nil {
		log.Printf("probe: credential check: password prompt lookup: %v", err)
		return false
	}
	if !present {
		return true
	}

	if err := engine.Type(ctx, selectorPasswordInput, secret); err != nil {
		log.Printf("probe: credential check: type password: %v", err)
		return false
	}
	if err := engine.Click(ctx, selectorPasswordConfirm); err != nil {
		log.Printf("probe: credential check: confirm password: %v", err)
		return false
	}
	if err := p.settle(ctx); err != nil {
		return false
	}

	return true
}

// newEngine creates a browser session, going through the circuit breaker
// when one is configured.
func (p *Prober) newEngine(ctx context.Context) (browser.Engine, error) {
	if p.breaker != nil {
		if err := p.breaker.Allow(p.endpoint); err != nil {
			return nil, err
		}
	}
	engine, err := p.factory.NewEngine(ctx)
	if err != nil {
		p.recordFailure()
		return nil, err
	}
	p.recordSuccess()
	return engine, nil
}

// loadCookies resets the session's cookie jar and installs the blob's
// cookies. Clearing first prevents state leaking between probes that share
// a browser instance.
func (p *Prober) loadCookies(ctx context.Context, engine browser.Engine, session string) error {
	var cookies []browser.Cookie
	if err := json.Unmarshal([]byte(session), &cookies); err != nil {
		return err
	}
	if err := engine.ClearCookies(ctx); err != nil {
		return err
	}
	return engine.SetCookies(ctx, cookies)
}

// clickFirst clicks the first selector that resolves to an element and
// reports whether any of them did.
func (p *Prober) clickFirst(ctx context.Context, engine browser.Engine, selectors ...string) (bool, error) {
	for _, sel := range selectors {
		present, err := engine.Exists(ctx, sel)
		if err != nil {
			return false, err
		}
		if !present {
			continue
		}
		if err := engine.Click(ctx, sel); err != nil {
			if errors.Is(err, browser.ErrElementNotFound) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// settle waits the fixed step delay, honouring cancellation.
func (p *Prober) settle(ctx context.Context) error {
	timer := time.NewTimer(p.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Prober) recordFailure() {
	if p.breaker != nil {
		p.breaker.RecordFailure(p.endpoint)
	}
}

func (p *Prober) recordSuccess() {
	if p.breaker != nil {
		p.breaker.RecordSuccess(p.endpoint)
	}
}
