// Package channel holds one executor per outbound channel type. An executor
// turns a channel's settings and a submission into a single delivery attempt.
package channel

import (
	"context"
	"fmt"

	"github.com/djlord-it/formrelay/internal/domain"
)

// Executor performs one delivery attempt. Failures are *domain.ChannelError.
type Executor interface {
	Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error

func (f ExecutorFunc) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	return f(ctx, settings, sub)
}

// Registry maps channel types to executors. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	executors map[domain.ChannelType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.ChannelType]Executor)}
}

// Register binds exec to t, replacing any previous binding.
func (r *Registry) Register(t domain.ChannelType, exec Executor) *Registry {
	r.executors[t] = exec
	return r
}

// Lookup returns the executor for t. ok is false for reserved or unwired types.
func (r *Registry) Lookup(t domain.ChannelType) (Executor, bool) {
	exec, ok := r.executors[t]
	return exec, ok
}

// Types lists the registered channel types in channel order.
func (r *Registry) Types() []domain.ChannelType {
	var out []domain.ChannelType
	for _, t := range domain.KnownChannelTypes() {
		if _, ok := r.executors[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Wrap applies decorate to every registered executor.
func (r *Registry) Wrap(decorate func(domain.ChannelType, Executor) Executor) *Registry {
	for t, exec := range r.executors {
		r.executors[t] = decorate(t, exec)
	}
	return r
}

// settingsAs extracts the concrete settings an executor expects.
func settingsAs[T domain.ChannelSettings](channel domain.ChannelType, settings domain.ChannelSettings) (T, error) {
	s, ok := settings.(T)
	if !ok {
		var zero T
		return zero, domain.NewChannelError(channel, domain.KindMalformedConfig,
			fmt.Errorf("unexpected settings %T", settings))
	}
	if err := s.Validate(); err != nil {
		var zero T
		return zero, domain.NewChannelError(channel, domain.KindMalformedConfig, err)
	}
	return s, nil
}
