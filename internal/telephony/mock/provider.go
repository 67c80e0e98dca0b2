package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/telephony"
)

// Provider records calls in memory. It never produces webhooks on its own;
// tests and local runs drive the state machine by posting callbacks.
type Provider struct {
	mu     sync.Mutex
	calls  map[string]telephony.CallInfo
	placed []telephony.CallRequest
	// FailNext makes the next PlaceCall return this error.
	FailNext error
}

// NewProvider constructs an empty mock provider.
func NewProvider() *Provider {
	return &Provider{calls: make(map[string]telephony.CallInfo)}
}

// PlaceCall stores the request and returns a fresh id.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return "", fmt.Errorf("telephony mock: %w", err)
	}
	id := "mock-" + uuid.NewString()
	now := time.Now().UTC()
	p.calls[id] = telephony.CallInfo{ID: id, Status: "queued", StartedAt: &now}
	p.placed = append(p.placed, req)
	return id, nil
}

// GetCall returns a stored call.
func (p *Provider) GetCall(_ context.Context, providerCallID string) (*telephony.CallInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.calls[providerCallID]
	if !ok {
		return nil, telephony.ErrCallNotFound
	}
	return &info, nil
}

// SetCall overrides what GetCall returns for a call.
func (p *Provider) SetCall(info telephony.CallInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[info.ID] = info
}

// Placed returns a copy of the requests seen so far.
func (p *Provider) Placed() []telephony.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telephony.CallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}
