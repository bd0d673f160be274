// Package router fans bus messages out to every subscriber whose pattern
// matches the message topic.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/metrics"
	"github.com/cortexlab/cortex/internal/topic"
)

// Handler receives a routed message. Returned errors are logged and counted;
// they never stop delivery to other handlers.
type Handler func(topic string, payload []byte) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	pattern string
	handler Handler
}

func (s *Subscription) Pattern() string {
	return s.pattern
}

type Router struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*Subscription

	logger        *slog.Logger
	metrics       *metrics.Metrics
	decodeLimiter *rate.Limiter

	newPattern func(pattern string)
}

func New(logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger:        logger.With("component", "router"),
		metrics:       m,
		decodeLimiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// OnNewPattern registers fn to be called whenever a subscription introduces a
// pattern that was not active before. The bus client uses it to subscribe
// lazily.
func (r *Router) OnNewPattern(fn func(pattern string)) {
	r.mu.Lock()
	r.newPattern = fn
	r.mu.Unlock()
}

func (r *Router) Subscribe(pattern string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("router: nil handler")
	}
	if err := topic.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	r.mu.Lock()
	fresh := true
	for _, s := range r.subs {
		if s.pattern == pattern {
			fresh = false
			break
		}
	}
	r.nextID++
	sub := &Subscription{id: r.nextID, pattern: pattern, handler: handler}
	r.subs = append(r.subs, sub)
	notify := r.newPattern
	r.mu.Unlock()

	if fresh && notify != nil {
		notify(pattern)
	}

	return sub, nil
}

// Unsubscribe removes exactly the given handle. It reports whether the handle
// was active.
func (r *Router) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == sub.id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}

	return false
}

// Match returns the subscriptions whose pattern matches t, in registration
// order.
func (r *Router) Match(t string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Subscription
	for _, s := range r.subs {
		if topic.Matches(s.pattern, t) {
			matched = append(matched, s)
		}
	}

	return matched
}

// Dispatch delivers the message to every matching handler and returns how many
// handlers were invoked. Handlers run outside the router lock so they may
// subscribe or unsubscribe.
func (r *Router) Dispatch(t string, payload []byte) int {
	matched := r.Match(t)
	for _, s := range matched {
		r.invoke(s, t, payload)
	}

	return len(matched)
}

// Patterns returns the distinct active patterns, sorted.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.subs))
	for _, s := range r.subs {
		seen[s.pattern] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)

	return out
}

func (r *Router) invoke(s *Subscription, t string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.DispatchFailure(metrics.KindPanic)
			r.logger.Error("subscriber panicked", "pattern", s.pattern, "topic", t, "panic", rec)
		}
	}()

	err := s.handler(t, payload)
	if err == nil {
		return
	}

	var decErr *codec.DecodeError
	if errors.As(err, &decErr) {
		r.metrics.DispatchFailure(metrics.KindDecode)
		if r.decodeLimiter.Allow() {
			r.logger.Warn("dropping malformed payload", "topic", t, "error", err)
		}
		return
	}

	r.metrics.DispatchFailure(metrics.KindHandler)
	r.logger.Warn("subscriber failed", "pattern", s.pattern, "topic", t, "error", err)
}
