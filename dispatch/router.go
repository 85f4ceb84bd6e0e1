package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/telemetry"
)

// Handler reacts to events it supports. Handlers must be safe for
// concurrent use since every worker shares the same chain.
type Handler interface {
	Name() string
	Supports(t event.Type) bool
	Handle(ctx context.Context, ev *event.Event) error
}

// Registration places a handler in the chain. Lower priority runs first.
type Registration struct {
	Handler  Handler
	Priority int
}

// HandlerError wraps the first failure of a chain
type HandlerError struct {
	Handler string
	Type    event.Type
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Router dispatches events to an ordered, immutable handler chain.
type Router struct {
	chain []Handler
}

// NewRouter sorts registrations by priority. Equal priorities keep
// registration order, so the resulting order is fully deterministic.
func NewRouter(regs ...Registration) *Router {
	sorted := make([]Registration, len(regs))
	copy(sorted, regs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	chain := make([]Handler, len(sorted))
	for i, r := range sorted {
		chain[i] = r.Handler
	}
	return &Router{chain: chain}
}

// Dispatch runs every supporting handler in order and stops at the first error.
func (r *Router) Dispatch(ctx context.Context, ev *event.Event) error {
	for _, h := range r.chain {
		if !h.Supports(ev.Type) {
			continue
		}

		start := time.Now()
		err := h.Handle(ctx, ev)
		telemetry.HandlerDurationSeconds.With(h.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			return &HandlerError{Handler: h.Name(), Type: ev.Type, Err: err}
		}
	}
	return nil
}

// Handlers returns the chain in execution order
func (r *Router) Handlers() []Handler {
	out := make([]Handler, len(r.chain))
	copy(out, r.chain)
	return out
}

// HandlersFor returns the handlers an event of type t would reach
func (r *Router) HandlersFor(t event.Type) []Handler {
	var out []Handler
	for _, h := range r.chain {
		if h.Supports(t) {
			out = append(out, h)
		}
	}
	return out
}

// HandlerFunc adapts a function to Handler for a fixed set of types
type HandlerFunc struct {
	name  string
	types map[event.Type]struct{}
	fn    func(ctx context.Context, ev *event.Event) error
}

func NewHandlerFunc(name string, fn func(ctx context.Context, ev *event.Event) error, types ...event.Type) *HandlerFunc {
	set := make(map[event.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return &HandlerFunc{name: name, types: set, fn: fn}
}

func (h *HandlerFunc) Name() string { return h.name }

func (h *HandlerFunc) Supports(t event.Type) bool {
	_, ok := h.types[t]
	return ok
}

func (h *HandlerFunc) Handle(ctx context.Context, ev *event.Event) error {
	return h.fn(ctx, ev)
}
