package events

import (
	"context"
	"sync"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

// FakePublisher captures published events for tests and local development.
type FakePublisher struct {
	mu     sync.Mutex
	events []model.Event
	// FailWith makes every Publish return this error when set.
	FailWith error
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(_ context.Context, e model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.events = append(f.events, e)
	return nil
}

func (f *FakePublisher) Events() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...)
}

func (f *FakePublisher) Types() []model.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}
