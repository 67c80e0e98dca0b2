package realtime

import (
	"context"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/domain"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerBroadcastsAndSkipsGarbage(t *testing.T) {
	f := newHubFixture(t, 16)
	viewer := f.connect(RoleViewer, f.account)

	event := domain.NewEvent(domain.EventCampaignCompleted, f.account, map[string]any{"name": "June"})
	value, err := json.Marshal(event)
	require.NoError(t, err)
	other, err := json.Marshal(domain.NewEvent(domain.EventCampaignCompleted, uuid.New(), nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte("not json")},
			{Offset: 2, Value: value},
			{Offset: 3, Value: other},
		},
	}

	err = NewConsumer(reader, f.hub, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)

	got := drain(t, viewer)
	require.Len(t, got, 1)
	assert.Equal(t, string(domain.EventCampaignCompleted), got[0].Type)
	assert.Equal(t, event.ID.String(), got[0].Payload.(map[string]any)["event_id"])
}
