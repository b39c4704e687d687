package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/correlate/internal/ir"
)

// ErrConsumerExists is returned when registering a second consumer under
// the same key.
var ErrConsumerExists = errors.New("consumer already registered")

// Router maps consumer keys to consumers and fans occurrences out to them.
type Router struct {
	mu        sync.RWMutex
	consumers map[string]Consumer
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{consumers: make(map[string]Consumer)}
}

// Register adds a consumer under its key.
func (r *Router) Register(c Consumer) error {
	key := c.ConsumerKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumers[key]; ok {
		return fmt.Errorf("%w: %s", ErrConsumerExists, key)
	}
	r.consumers[key] = c
	return nil
}

// Unregister removes the consumer with the given key, if any.
func (r *Router) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, key)
}

// Consumer returns the consumer registered under key.
func (r *Router) Consumer(key string) (Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[key]
	return c, ok
}

// Keys returns the registered keys in sorted order.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.consumers))
	for k := range r.consumers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Dispatch hands occ to every registered consumer in key order. The first
// consumer error stops the fan-out and is returned.
func (r *Router) Dispatch(ctx context.Context, occ ir.Occurrence) error {
	for _, key := range r.Keys() {
		c, ok := r.Consumer(key)
		if !ok {
			continue
		}
		if err := c.OnEventReceived(ctx, occ); err != nil {
			return fmt.Errorf("consumer %s: %w", key, err)
		}
	}
	return nil
}
