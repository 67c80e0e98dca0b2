package analysis

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/infra/httpclient"
)

// Request is the transcript analysis input.
type Request struct {
	CallID     string    `json:"callId"`
	Transcript string    `json:"transcript"`
	Duration   int       `json:"duration"`
	LeadID     uuid.UUID `json:"leadId"`
	CampaignID uuid.UUID `json:"campaignId"`
}

// Result is the qualification verdict.
type Result struct {
	Score   float64 `json:"score"`
	Action  string  `json:"action"`
	Summary string  `json:"summary"`
}

// Analyzer scores a finished call.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Client is the HTTP analyzer.
type Client struct {
	http *httpclient.Client
}

// NewClient builds the analysis client.
func NewClient(cfg config.AnalysisConfig) *Client {
	return &Client{http: httpclient.New(httpclient.Config{
		Name:    "analysis",
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	})}
}

// Analyze posts the transcript and returns the verdict.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	var out Result
	if err := c.http.Do(ctx, http.MethodPost, "/analyze", req, &out); err != nil {
		return nil, fmt.Errorf("analysis: analyze: %w", err)
	}
	return &out, nil
}
