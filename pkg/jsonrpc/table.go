package jsonrpc

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrEmptyMethodName is returned when registering a method without a name.
var ErrEmptyMethodName = errors.New("method name must not be empty")

// MethodTable maps method names to handlers. It is safe for concurrent use;
// registrations may happen while calls are being dispatched.
type MethodTable struct {
	// handlers is a map of method names to handlers.
	handlers map[string]Handler

	// mutex is used to synchronize access to the handlers map.
	mutex sync.RWMutex
}

// NewMethodTable creates an empty method table.
func NewMethodTable() *MethodTable {
	return &MethodTable{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for a method, replacing any previous handler.
func (t *MethodTable) Register(method string, handler Handler) error {
	if method == "" {
		return ErrEmptyMethodName
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidHandler, method)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handlers[method] = handler
	return nil
}

// RegisterFunc adapts fn with Func and registers it.
func (t *MethodTable) RegisterFunc(method string, fn any, names ...string) error {
	h, err := Func(fn, names...)
	if err != nil {
		return fmt.Errorf("register %q: %w", method, err)
	}
	return t.Register(method, h)
}

// Unregister removes a method. It reports whether the method was registered.
func (t *MethodTable) Unregister(method string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	_, ok := t.handlers[method]
	delete(t.handlers, method)
	return ok
}

// Lookup returns the handler registered for method.
func (t *MethodTable) Lookup(method string) (Handler, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	h, ok := t.handlers[method]
	return h, ok
}

// Methods returns the registered method names in sorted order.
func (t *MethodTable) Methods() []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return slices.Sorted(maps.Keys(t.handlers))
}

// Len returns the number of registered methods.
func (t *MethodTable) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.handlers)
}
