package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/infra/httpclient"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// HTTPProvider talks to the voice provider's REST API.
type HTTPProvider struct {
	client *httpclient.Client
}

// NewHTTPProvider builds the client from telephony settings.
func NewHTTPProvider(cfg config.TelephonyConfig) *HTTPProvider {
	return &HTTPProvider{client: httpclient.New(httpclient.Config{
		Name:            "telephony",
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Timeout:         cfg.RequestTimeout,
		RPS:             cfg.RPS,
		Burst:           cfg.Burst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})}
}

type placeCallResponse struct {
	ID string `json:"id"`
}

// PlaceCall starts a call and returns the provider call id.
func (p *HTTPProvider) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	var resp placeCallResponse
	if err := p.client.Do(ctx, http.MethodPost, "/call", req, &resp); err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("telephony: place call: %w: empty call id", apperrors.ErrUnavailable)
	}
	return resp.ID, nil
}

// GetCall fetches the provider's record of a call.
func (p *HTTPProvider) GetCall(ctx context.Context, providerCallID string) (*CallInfo, error) {
	var info CallInfo
	if err := p.client.Do(ctx, http.MethodGet, "/call/"+url.PathEscape(providerCallID), nil, &info); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("telephony: get call: %w", err)
	}
	return &info, nil
}
