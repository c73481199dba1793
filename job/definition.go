package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition binds a job name to a handler taking a typed input. The
// input travels as the job's kwargs, so it must encode as a JSON object;
// that is also the form a dead letter record keeps and a manual retry
// re-submits.
type Definition[T any] struct {
	Name    string
	Handler func(ctx context.Context, input T) error
	Opts    Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, input T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Kwargs encodes input as job kwargs.
func (d *Definition[T]) Kwargs(input T) (map[string]any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for job %q: %w", d.Name, err)
	}
	var kwargs map[string]any
	if err := json.Unmarshal(data, &kwargs); err != nil {
		return nil, fmt.Errorf("input for job %q must encode as an object: %w", d.Name, err)
	}
	return kwargs, nil
}

// Input decodes kwargs back into T. Empty kwargs yield the zero value.
func (d *Definition[T]) Input(kwargs map[string]any) (T, error) {
	var in T
	if len(kwargs) == 0 {
		return in, nil
	}
	if err := DecodeKwargs(kwargs, &in); err != nil {
		return in, fmt.Errorf("decode kwargs for job %q: %w", d.Name, err)
	}
	return in, nil
}
