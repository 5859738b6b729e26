// Package rest sends JSON requests to third-party APIs under the shared retry
// policy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/printstudio/internal/retry"
)

const maxResponseBytes = 8 << 20

type Client struct {
	http   *http.Client
	policy retry.Policy
}

func NewClient(httpClient *http.Client, policy retry.Policy) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient, policy: policy}
}

func (c *Client) Policy() retry.Policy {
	return c.policy
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any

	// Attempts overrides the policy's attempt budget for this call site.
	Attempts int
}

// Do sends req, retrying network failures, non-2xx statuses and undecodable
// bodies. A 2xx JSON body is decoded into out; check may then inspect it and
// return an error, wrapped with retry.Permanent to stop retrying.
func (c *Client) Do(ctx context.Context, req Request, out any, check func() error) error {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	policy := c.policy
	if req.Attempts > 0 {
		policy = policy.WithAttempts(req.Attempts)
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(k, v)
			}
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return retry.Network(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.Network(fmt.Errorf("read response body: %w", err))
		}
		if err := retry.CheckStatus(resp, raw); err != nil {
			return err
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return retry.Malformed(fmt.Errorf("decode %s response: %w", req.URL, err))
			}
		}
		if check != nil {
			return check()
		}
		return nil
	})
}
