// Package commands routes user intents from the presentation layer to the
// controller through a typed bus that middleware can wrap.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Command is a user intent. Key identifies its handler.
type Command interface {
	Key() string
}

// Public commands may run without a stored credential.
type Public interface {
	Public() bool
}

// IsPublic reports whether cmd opts out of the session gate.
func IsPublic(cmd Command) bool {
	p, ok := cmd.(Public)
	return ok && p.Public()
}

type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[C Command, R any] func(ctx context.Context, cmd C) (R, error)

func (f HandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// Bus dispatches commands, possibly through middleware.
type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("commands: handler not found")
	ErrInvalidCommand  = errors.New("commands: invalid command for handler")
	ErrResultType      = errors.New("commands: result type mismatch")
	ErrNilBus          = errors.New("commands: nil bus")
)

// Dispatch sends cmd and asserts the result type.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Dispatch(ctx, cmd)
	if err != nil || res == nil {
		return zero, err
	}
	value, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, cmd.Key(), res)
	}
	return value, nil
}

type rawHandler func(ctx context.Context, cmd Command) (any, error)

// Registry is the terminal bus: it looks up handlers by command key.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]rawHandler)}
}

func (r *Registry) Dispatch(ctx context.Context, cmd Command) (any, error) {
	if cmd == nil {
		return nil, ErrInvalidCommand
	}
	r.mu.RLock()
	h, ok := r.handlers[cmd.Key()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.Key())
	}
	return h(ctx, cmd)
}

// Keys lists registered command keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Register binds handler to the key of C's zero value. Registering a key
// twice panics.
func Register[C Command, R any](r *Registry, handler Handler[C, R]) {
	if r == nil {
		panic("commands: nil registry")
	}
	var probe C
	key := probe.Key()
	if key == "" {
		panic("commands: empty key registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[key]; dup {
		panic("commands: duplicate registration for " + key)
	}
	r.handlers[key] = func(ctx context.Context, raw Command) (any, error) {
		cmd, ok := raw.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, key)
		}
		return handler.Handle(ctx, cmd)
	}
}
