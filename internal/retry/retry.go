// Package retry is the single backoff policy shared by every outbound call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrMalformedResponse = errors.New("malformed response")
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1000 * time.Millisecond,
		Multiplier:  2,
	}
}

func (p Policy) WithAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Delay is the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a Permanent error, or the attempts run
// out. The last error is returned wrapped in *ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNetwork):
		return fmt.Sprintf("could not reach service after %d attempts, check the network connection: %v", e.Attempts, e.Err)
	case errors.Is(e.Err, ErrMalformedResponse):
		return fmt.Sprintf("service returned an unreadable response after %d attempts: %v", e.Attempts, e.Err)
	default:
		return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
	}
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status=%d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status=%d body=%s", e.StatusCode, e.Body)
}

// Network wraps a transport failure so callers can tell it apart from bad
// payloads.
func Network(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func Malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
}

// CheckStatus turns a non-2xx response into *StatusError. The body snippet is
// capped so error strings stay readable.
func CheckStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: snippet}
}
