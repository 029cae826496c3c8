package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/postforge/autopost/internal/models"
)

// HTTPAdapterConfig configures a remote adapter endpoint.
type HTTPAdapterConfig struct {
	Endpoint    string
	Platform    string
	Timeout     time.Duration
	TokenSecret []byte
	TokenTTL    time.Duration
	HTTPClient  *http.Client
}

// HTTPAdapter reaches a platform adapter over HTTP. One dispatch is one
// bounded POST: a timed-out or failed call is not retried within the run;
// retries happen on the next scheduled cycle via the rule's advanced
// next_run_at.
type HTTPAdapter struct {
	endpoint    string
	platform    string
	client      *http.Client
	timeout     time.Duration
	tokenSecret []byte
	tokenTTL    time.Duration
}

func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("adapter endpoint required")
	}
	if cfg.Platform == "" {
		return nil, fmt.Errorf("adapter platform required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAdapter{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		platform:    cfg.Platform,
		client:      client,
		timeout:     timeout,
		tokenSecret: cfg.TokenSecret,
		tokenTTL:    cfg.TokenTTL,
	}, nil
}

// Dispatch posts the request to the adapter endpoint. A transport failure
// or timeout is returned as an error for the coordinator to record as
// PLATFORM_DISPATCH_ERROR. A response that does not parse into the result
// envelope (including a missing ok field) becomes a failed Result with
// PLATFORM_DISPATCH_HTTP_ERROR.
func (a *HTTPAdapter) Dispatch(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal dispatch request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if len(a.tokenSecret) > 0 {
		token, err := MintServiceToken(a.tokenSecret, a.platform, a.tokenTTL)
		if err != nil {
			return Result{}, fmt.Errorf("mint service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("adapter %s dispatch: %w", a.platform, err)
	}
	defer resp.Body.Close()

	return decodeResult(resp), nil
}

// wireResult detects a missing ok field, which the envelope contract
// forbids.
type wireResult struct {
	OK             *bool  `json:"ok"`
	PlatformPostID string `json:"platform_post_id"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
}

func decodeResult(resp *http.Response) Result {
	var wire wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil || wire.OK == nil {
		return Result{
			OK:           false,
			ErrorCode:    models.CodePlatformDispatchHTTPErr,
			ErrorMessage: fmt.Sprintf("adapter returned unparseable response (status %s)", resp.Status),
		}
	}
	return Result{
		OK:             *wire.OK,
		PlatformPostID: wire.PlatformPostID,
		ErrorCode:      wire.ErrorCode,
		ErrorMessage:   wire.ErrorMessage,
	}
}
