package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// intakeClient is shared by the HTTP collaborators. Every call is bounded by
// timeout regardless of the caller's context.
type intakeClient struct {
	http    *RetryableHTTPClient
	token   string
	timeout time.Duration
}

func newIntakeClient(cfg Config, retries int) intakeClient {
	timeout := time.Duration(cfg.Intake.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return intakeClient{
		http:    NewRetryableHTTPClient(timeout, retries),
		token:   cfg.Intake.Token,
		timeout: timeout,
	}
}

func (c intakeClient) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var req *http.Request
	var err error
	if body != nil {
		buf, e := json.Marshal(body)
		if e != nil {
			return fmt.Errorf("marshal request: %w", e)
		}
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("intake status %d: %s", resp.StatusCode, bytes.TrimSpace(errorBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
