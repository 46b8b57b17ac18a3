// Package channel is the in-process publish/subscribe registry that fans
// warranty-run progress out to streaming connections. Topics are created on
// first subscribe and removed with the last unsubscribe; each streaming
// connection owns exactly one subscription whose lifecycle is tied to the
// connection's open/close.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slotshare/warranty/internal/domain"
)

// ErrPublishTimeout is returned when a subscriber's buffer stayed full past
// the publish timeout. The event is dropped for that subscriber only.
var ErrPublishTimeout = errors.New("publish timed out: subscriber buffer full")

const (
	defaultBuffer         = 16
	defaultPublishTimeout = 2 * time.Second
)

// MetricsSink records registry activity. Methods must be non-blocking.
type MetricsSink interface {
	SubscribersUpdate(count int)
	PublishDropped()
}

type Option func(*Registry)

// WithSubscriberBuffer sets the per-subscription channel buffer.
func WithSubscriberBuffer(n int) Option {
	return func(r *Registry) { r.buffer = n }
}

// WithPublishTimeout bounds how long Publish waits on a full subscriber.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(sink MetricsSink) Option {
	return func(r *Registry) { r.metrics = sink }
}

type subscriber struct {
	id int
	ch chan domain.ProgressEvent
}

// Registry is a topic-keyed pub/sub registry.
type Registry struct {
	mu      sync.RWMutex
	topics  map[string][]*subscriber
	nextID  int
	count   int
	buffer  int
	timeout time.Duration
	metrics MetricsSink // optional, nil = disabled
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		topics:  make(map[string][]*subscriber),
		buffer:  defaultBuffer,
		timeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a listener on topic and returns its event channel plus
// a cancel function. Cancel is idempotent and must be called when the
// listener goes away; it deregisters the subscription so publishers stop
// delivering to it. The channel is never closed: subscribers exit on a
// terminal event or on their own cancellation, not on channel close.
func (r *Registry) Subscribe(topic string) (<-chan domain.ProgressEvent, func()) {
	r.mu.Lock()
	r.nextID++
	sub := &subscriber{
		id: r.nextID,
		ch: make(chan domain.ProgressEvent, r.buffer),
	}
	r.topics[topic] = append(r.topics[topic], sub)
	r.count++
	count := r.count
	r.mu.Unlock()

	r.updateMetrics(count)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.unsubscribe(topic, sub.id)
		})
	}
	return sub.ch, cancel
}

func (r *Registry) unsubscribe(topic string, id int) {
	r.mu.Lock()
	subs := r.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			r.topics[topic] = append(subs[:i], subs[i+1:]...)
			r.count--
			break
		}
	}
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
	count := r.count
	r.mu.Unlock()

	r.updateMetrics(count)
}

// Publish delivers event to every current subscriber of topic, in order.
// A topic with no subscribers is not an error: the client may have
// disconnected while its run continues. A subscriber whose buffer stays
// full past the publish timeout has this event dropped; Publish never
// blocks the caller past the timeout per subscriber.
func (r *Registry) Publish(ctx context.Context, topic string, event domain.ProgressEvent) error {
	r.mu.RLock()
	subs := make([]*subscriber, len(r.topics[topic]))
	copy(subs, r.topics[topic])
	r.mu.RUnlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		timer := time.NewTimer(r.timeout)
		select {
		case sub.ch <- event:
			timer.Stop()
		case <-timer.C:
			dropped++
			if r.metrics != nil {
				r.metrics.PublishDropped()
			}
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w (%d subscriber(s))", ErrPublishTimeout, dropped)
	}
	return nil
}

// Subscribers returns the number of active subscriptions across all topics.
func (r *Registry) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Registry) updateMetrics(count int) {
	if r.metrics != nil {
		r.metrics.SubscribersUpdate(count)
	}
}
