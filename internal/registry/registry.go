// Package registry tracks named observer registrations per event category and
// fans incoming stack events out to them. Registration and unregistration are
// strictly paired by the request handlers; the registry itself only guards
// membership - delivery happens outside the lock so a slow observer never
// blocks register/unregister on the same category.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/btgate/internal/stack"
)

// observerSeq feeds ObserverName so two observers of the same type live at
// the same time still get distinct names.
var observerSeq atomic.Uint64

// ObserverName generates a unique registration name for an observer,
// combining its concrete type with a process-wide sequence number.
func ObserverName(observer any) string {
	return fmt.Sprintf("%T#%d", observer, observerSeq.Add(1))
}

type category struct {
	mu        sync.RWMutex
	observers *orderedmap.OrderedMap[string, any]
}

// Registry is the per-category observer table. Safe for concurrent
// Register/Unregister/Dispatch from RPC goroutines and the stack's delivery
// goroutine.
type Registry struct {
	logger     *logrus.Logger
	categories map[stack.Category]*category
}

// New creates a registry covering all event categories.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		logger:     logger,
		categories: make(map[stack.Category]*category),
	}
	for _, c := range []stack.Category{
		stack.CategoryPairing,
		stack.CategoryConnection,
		stack.CategoryAttribute,
		stack.CategoryScan,
		stack.CategoryAdvertising,
	} {
		r.categories[c] = &category{observers: orderedmap.New[string, any]()}
	}
	return r
}

func (r *Registry) category(c stack.Category) (*category, error) {
	cat, ok := r.categories[c]
	if !ok {
		return nil, fmt.Errorf("unknown event category %q", c)
	}
	return cat, nil
}

// Register adds an observer under a unique name. A duplicate name within the
// category is a programming error: names must be generated per registration
// (see ObserverName).
func (r *Registry) Register(c stack.Category, name string, observer any) error {
	cat, err := r.category(c)
	if err != nil {
		return err
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()
	if _, exists := cat.observers.Get(name); exists {
		return fmt.Errorf("observer %q already registered in category %q", name, c)
	}
	cat.observers.Set(name, observer)

	r.logger.WithFields(logrus.Fields{
		"category": c,
		"observer": name,
	}).Debug("Registered observer")
	return nil
}

// Unregister removes an observer registration. Removing a name that a prior
// cleanup path already removed is a no-op, so deferred cleanup can run
// unconditionally.
func (r *Registry) Unregister(c stack.Category, name string) {
	cat, err := r.category(c)
	if err != nil {
		r.logger.WithField("category", c).Warn("Unregister on unknown category")
		return
	}

	cat.mu.Lock()
	_, existed := cat.observers.Delete(name)
	cat.mu.Unlock()

	if !existed {
		r.logger.WithFields(logrus.Fields{
			"category": c,
			"observer": name,
		}).Debug("Unregister of already-removed observer (no-op)")
		return
	}
	r.logger.WithFields(logrus.Fields{
		"category": c,
		"observer": name,
	}).Debug("Unregistered observer")
}

// Count returns the number of live registrations in a category.
func (r *Registry) Count(c stack.Category) int {
	cat, err := r.category(c)
	if err != nil {
		return 0
	}
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	return cat.observers.Len()
}

// Dispatch delivers an event to every observer in the category that
// implements the callback for this event kind. Membership is snapshotted
// under the category lock; delivery runs outside it, so observers may
// unregister themselves (or others) from their callback.
func (r *Registry) Dispatch(c stack.Category, ev stack.Event) {
	cat, err := r.category(c)
	if err != nil {
		r.logger.WithField("category", c).Warn("Dispatch on unknown category")
		return
	}

	cat.mu.RLock()
	snapshot := make([]any, 0, cat.observers.Len())
	for pair := cat.observers.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	cat.mu.RUnlock()

	for _, obs := range snapshot {
		deliver(obs, ev)
	}
}
