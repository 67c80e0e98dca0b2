package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Publisher puts state-change events on the internal bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Emit publishes and logs failures. Bus outages never fail the caller.
func Emit(ctx context.Context, pub Publisher, log *logger.Logger, event domain.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil && log != nil {
		log.WithContext(ctx).Warn("publish event",
			zap.String("type", string(event.Type)),
			zap.String("scope", event.ScopeKey()),
			zap.Error(err))
	}
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, domain.Event) error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of what was published.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
