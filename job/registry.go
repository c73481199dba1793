package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// HandlerFunc processes one job.
type HandlerFunc func(ctx context.Context, j *Job) error

// Entry is a registered handler and its options.
type Entry struct {
	Name    string
	Handler HandlerFunc
	Opts    Options
}

// Registry maps job names to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register registers an untyped handler. A later registration under the
// same name replaces the earlier one.
func (r *Registry) Register(name string, h HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Name: name, Handler: h, Opts: o}
}

// RegisterDefinition registers a typed job definition. The handler is
// wrapped in a closure that decodes the job's Kwargs into T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job) error {
		in, err := def.Input(j.Kwargs)
		if err != nil {
			return err
		}
		return def.Handler(ctx, in)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = Entry{Name: def.Name, Handler: handler, Opts: def.Opts}
}

// DecodeKwargs converts kwargs into v through their JSON form.
func DecodeKwargs(kwargs map[string]any, v any) error {
	data, err := json.Marshal(kwargs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Get returns the entry for the given job name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Lookup reports whether a handler is registered for name.
func (r *Registry) Lookup(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns all registered entries, sorted by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			out = append(out, e)
		}
	}
	return out
}
