package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/voice-dialer/internal/domain"
)

// TranscriptStore keeps partial transcript chunks streamed during a call.
type TranscriptStore struct {
	session *gocql.Session
}

// NewTranscriptStore creates a new transcript store.
func NewTranscriptStore(session *gocql.Session) *TranscriptStore {
	return &TranscriptStore{session: session}
}

// AppendSegment writes one chunk.
func (s *TranscriptStore) AppendSegment(ctx context.Context, segment domain.TranscriptSegment) error {
	if segment.ReceivedAt.IsZero() {
		segment.ReceivedAt = time.Now().UTC()
	}
	if err := s.session.Query(`INSERT INTO transcript_segments (provider_call_id, received_at, seq, role, text, final)
		VALUES (?, ?, ?, ?, ?, ?)`,
		segment.ProviderCallID, segment.ReceivedAt, gocql.TimeUUID(), segment.Role, segment.Text, segment.Final,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// ListSegments returns a call's chunks in arrival order.
func (s *TranscriptStore) ListSegments(ctx context.Context, providerCallID string) ([]domain.TranscriptSegment, error) {
	iter := s.session.Query(`SELECT received_at, role, text, final FROM transcript_segments WHERE provider_call_id = ?`,
		providerCallID).WithContext(ctx).Iter()

	var (
		out        []domain.TranscriptSegment
		receivedAt time.Time
		role       string
		text       string
		final      bool
	)
	for iter.Scan(&receivedAt, &role, &text, &final) {
		out = append(out, domain.TranscriptSegment{
			ProviderCallID: providerCallID,
			Role:           role,
			Text:           text,
			Final:          final,
			ReceivedAt:     receivedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("transcript store: iter close: %w", err)
	}
	return out, nil
}
