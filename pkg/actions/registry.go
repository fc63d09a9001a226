package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrActionNotFound = errors.New("action not found")

// Result is what an action run hands back to the dialogue manager.
type Result struct {
	Events    []Event    `json:"events"`
	Responses []Response `json:"responses"`
}

// Registry dispatches action requests by name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry(actions ...Action) *Registry {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for _, action := range actions {
		r.Register(action)
	}
	return r
}

// Register adds or replaces an action under its name.
func (r *Registry) Register(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.Name()] = action
}

func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// Names lists registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run executes the named action against tracker.
func (r *Registry) Run(ctx context.Context, name string, tracker Tracker, domain Domain) (Result, error) {
	action, ok := r.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}

	dispatcher := NewDispatcher()
	events, err := action.Run(ctx, dispatcher, tracker, domain)
	if err != nil {
		return Result{}, fmt.Errorf("run action %s: %w", name, err)
	}
	if events == nil {
		events = []Event{}
	}

	return Result{Events: events, Responses: dispatcher.Messages()}, nil
}
