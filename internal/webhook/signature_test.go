package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

func TestVerify(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"type":"call-start","call":{"id":"c1"}}`)

	require.NoError(t, Verify(secret, body, Sign(secret, body)))

	cases := map[string]string{
		"missing":      "",
		"no prefix":    Sign(secret, body)[len("sha256="):],
		"not hex":      "sha256=zz",
		"wrong secret": Sign([]byte("other"), body),
		"tampered":     Sign(secret, append(body, ' ')),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Verify(secret, body, header), apperrors.ErrInvalidSignature)
		})
	}

	assert.ErrorIs(t, Verify(nil, body, Sign(nil, body)), apperrors.ErrInvalidSignature)
}
