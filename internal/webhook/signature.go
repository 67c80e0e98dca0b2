package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

const (
	// SignatureHeader carries the provider's HMAC of the raw body.
	SignatureHeader = "X-Signature"
	// EventIDHeader optionally carries the provider's delivery id.
	EventIDHeader = "X-Event-Id"

	signaturePrefix = "sha256="
)

// Sign returns the header value the provider sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the HMAC of body in constant time.
func Verify(secret, body []byte, header string) error {
	if len(secret) == 0 || header == "" {
		return apperrors.ErrInvalidSignature
	}
	digest, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return apperrors.ErrInvalidSignature
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return apperrors.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperrors.ErrInvalidSignature
	}
	return nil
}
