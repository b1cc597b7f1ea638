// Package functions calls the platform's serverless functions.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/pkg/logger"
)

// BackfillRequest asks the backend to fill in missing required profile fields.
type BackfillRequest struct {
	Timezone string `json:"timezone"`
}

type Client interface {
	Backfill(ctx context.Context, req BackfillRequest) error
}

// TokenFunc returns the ID token to authenticate a call with.
type TokenFunc func(ctx context.Context) (string, error)

// HTTPClient posts JSON to <baseURL>/<function> with the caller's ID token.
type HTTPClient struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
}

func NewHTTPClient(baseURL string, token TokenFunc, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Backfill(ctx context.Context, req BackfillRequest) error {
	return c.call(ctx, "backfillUserData", req)
}

// call retries once on transport errors and 5xx responses.
func (c *HTTPClient) call(ctx context.Context, name string, body interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"data": body})
	if err != nil {
		return err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%s: id token: %w", name, err)
	}
	url := c.baseURL + "/" + name

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = identity.Transient(err)
			logger.Warnf("functions: %s attempt %d: %v", name, attempt, err)
		} else {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode < 300:
				return nil
			case resp.StatusCode >= 500:
				lastErr = identity.Transient(fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(b))))
				logger.Warnf("functions: %s attempt %d: status %d", name, attempt, resp.StatusCode)
			default:
				return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(b)))
			}
		}
		if attempt < 2 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
