package compliance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/infra/httpclient"
)

// Registry answers whether a number is on an external do-not-call list.
type Registry interface {
	Listed(ctx context.Context, phone string) (bool, error)
}

// FederalRegistry queries the national do-not-call lookup service.
type FederalRegistry struct {
	client *httpclient.Client
}

// NewFederalRegistry returns nil when no registry URL is configured.
func NewFederalRegistry(cfg config.ComplianceConfig) *FederalRegistry {
	if cfg.FederalDNCURL == "" {
		return nil
	}
	return &FederalRegistry{client: httpclient.New(httpclient.Config{
		Name:    "federal-dnc",
		BaseURL: cfg.FederalDNCURL,
		APIKey:  cfg.FederalAPIKey,
		Timeout: cfg.FederalTimeout,
		RPS:     cfg.FederalRPS,
		Burst:   1,
	})}
}

type registryResponse struct {
	Listed bool `json:"listed"`
}

// Listed looks up one E.164 number.
func (r *FederalRegistry) Listed(ctx context.Context, phone string) (bool, error) {
	var resp registryResponse
	if err := r.client.Do(ctx, http.MethodGet, "/numbers/"+url.PathEscape(phone), nil, &resp); err != nil {
		return false, fmt.Errorf("federal dnc: lookup: %w", err)
	}
	return resp.Listed, nil
}
