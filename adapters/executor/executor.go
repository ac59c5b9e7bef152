// Package executor provides WorkExecutor implementations.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/billgate/billgate/ports"
)

// Remote delegates work to an external HTTP service. The service receives
// the work request as JSON and must answer with the result and its real
// cost in cents.
type Remote struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// RemoteConfig configures the remote executor.
type RemoteConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewRemote creates an executor that calls an external service.
func NewRemote(cfg RemoteConfig) *Remote {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Remote{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
	}
}

type remoteRequest struct {
	AccountID string `json:"account_id"`
	Mode      string `json:"mode,omitempty"`
	Input     string `json:"input"`
}

type remoteResponse struct {
	Output    string `json:"output"`
	CostCents int64  `json:"cost_cents"`
	Tokens    int64  `json:"tokens"`
}

// Execute sends the request to the remote service and returns its result.
func (r *Remote) Execute(ctx context.Context, req ports.WorkRequest) (ports.WorkResult, error) {
	payload, err := json.Marshal(remoteRequest{
		AccountID: req.AccountID,
		Mode:      req.Mode,
		Input:     req.Input,
	})
	if err != nil {
		return ports.WorkResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(payload))
	if err != nil {
		return ports.WorkResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return ports.WorkResult{}, fmt.Errorf("execute work: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.WorkResult{}, fmt.Errorf("work service returned %d: %s", resp.StatusCode, body)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.WorkResult{}, fmt.Errorf("decode response: %w", err)
	}
	if out.CostCents < 0 {
		return ports.WorkResult{}, fmt.Errorf("work service reported negative cost %d", out.CostCents)
	}

	return ports.WorkResult{
		Output:    out.Output,
		CostCents: out.CostCents,
		Tokens:    out.Tokens,
	}, nil
}

// Fixed performs no real work and charges a flat price per request.
// Useful for development and for deployments where cost is uniform.
type Fixed struct {
	costCents int64
	tokens    int64
}

// NewFixed creates a flat-price executor.
func NewFixed(costCents, tokens int64) *Fixed {
	return &Fixed{costCents: costCents, tokens: tokens}
}

// Execute echoes the input back at the configured flat price.
func (f *Fixed) Execute(_ context.Context, req ports.WorkRequest) (ports.WorkResult, error) {
	return ports.WorkResult{
		Output:    req.Input,
		CostCents: f.costCents,
		Tokens:    f.tokens,
	}, nil
}

var (
	_ ports.WorkExecutor = (*Remote)(nil)
	_ ports.WorkExecutor = (*Fixed)(nil)
)
