package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/queue"
	"github.com/acme/voice-dialer/internal/repository/memory"
)

type forwarderStub struct {
	msgs []queue.WebhookMessage
	err  error
}

func (f *forwarderStub) PublishWebhook(_ context.Context, msg queue.WebhookMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestIngressAccept(t *testing.T) {
	store := memory.NewStore()
	fwd := &forwarderStub{}
	ingress := NewIngress("secret", fwd, store.WebhookEvents(), nil)
	body := []byte(`{"type":"call-start","call":{"id":"call-7"}}`)
	ctx := context.Background()

	outcome := ingress.Accept(ctx, Sign([]byte("secret"), body), "evt-1", body)
	assert.Equal(t, domain.WebhookOutcomeAccepted, outcome)
	require.Len(t, fwd.msgs, 1)
	assert.Equal(t, "call-7", fwd.msgs[0].ProviderCallID)
	assert.Equal(t, "evt-1", fwd.msgs[0].EventID)
	assert.Empty(t, store.WebhookEvents().All())

	outcome = ingress.Accept(ctx, "sha256=deadbeef", "", body)
	assert.Equal(t, domain.WebhookOutcomeRejected, outcome)
	assert.Len(t, fwd.msgs, 1)

	fwd.err = errors.New("broker down")
	outcome = ingress.Accept(ctx, Sign([]byte("secret"), body), "", body)
	assert.Equal(t, domain.WebhookOutcomeFailed, outcome)

	audit := store.WebhookEvents().All()
	require.Len(t, audit, 2)
	assert.Equal(t, domain.WebhookOutcomeRejected, audit[0].Outcome)
	assert.Equal(t, "call-7", audit[0].ProviderCallID)
	assert.Equal(t, string(body), audit[0].Payload)
	assert.Equal(t, domain.WebhookOutcomeFailed, audit[1].Outcome)
}
