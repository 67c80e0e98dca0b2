package call

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// EncodePagingState turns an opaque store cursor into a URL-safe token.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePagingState reverses EncodePagingState. An empty token means the
// first page.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return state, nil
}
