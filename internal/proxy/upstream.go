// Package proxy implements the markd HTTP boundary: forwarding
// chat-completions requests to the upstream provider, rewriting the
// returned text through the watermark injector, and serving the
// verification endpoint.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"markd/internal/config"
)

// ErrNoAPIKey reports a missing upstream bearer token.
var ErrNoAPIKey = errors.New("proxy: upstream API key is not configured")

// Upstream is an explicitly owned handle to the upstream chat-completions
// provider. All requests are context-scoped; response bodies are owned by
// the caller and must be closed on every exit path.
type Upstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpstream creates an upstream client from configuration.
func NewUpstream(cfg config.UpstreamConfig) (*Upstream, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return &Upstream{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}, nil
}

// ChatCompletions forwards a request body to the provider's
// chat-completions endpoint and returns the raw response. The caller owns
// resp.Body.
func (u *Upstream) ChatCompletions(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	return resp, nil
}

// Ping probes upstream reachability. Any HTTP response counts as reachable;
// only transport-level failures are reported.
func (u *Upstream) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+u.apiKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
