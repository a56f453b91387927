// Package transport uploads crossing events to the backing service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fencewise/geosync/internal/config"
	apperrors "github.com/fencewise/geosync/internal/pkg/errors"
	"github.com/fencewise/geosync/internal/region"
)

// Transport delivers batches of crossing events upstream.
type Transport interface {
	// UploadEvents uploads a batch. An error classifies the failure via the
	// application error codes so callers can decide between retry and
	// discard.
	UploadEvents(ctx context.Context, events []region.Event) error
}

// HTTPTransport uploads events over HTTP JSON. Requests are paced by a
// client-side rate limiter so a burst of passes cannot hammer the service.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// uploadRequest is the wire shape of an upload batch.
type uploadRequest struct {
	Events []region.Event `json:"events"`
}

// NewHTTPTransport creates a transport from configuration.
func NewHTTPTransport(cfg config.TransportConfig) *HTTPTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst == 0 {
		cfg.Burst = 10
	}

	httpTransport := &http.Transport{
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
		ForceAttemptHTTP2: true,
	}

	return &HTTPTransport{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: httpTransport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// UploadEvents implements Transport.
func (t *HTTPTransport) UploadEvents(ctx context.Context, events []region.Event) error {
	if len(events) == 0 {
		return nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeTimeout, "rate limit wait aborted", err)
	}

	data, err := json.Marshal(uploadRequest{Events: events})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to marshal upload batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/location/events", bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to create upload request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.CodeTimeout, "upload aborted", err)
		}
		return apperrors.NetworkError("upload request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := apperrors.CodeForStatus(resp.StatusCode)
		return apperrors.New(code, fmt.Sprintf("upload rejected: HTTP %d: %s", resp.StatusCode, string(body)))
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}
