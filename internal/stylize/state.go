// Package stylize tracks an asynchronous stylization job from submission to a
// result URL, a failure, or an exhausted polling budget.
package stylize

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Phase int

const (
	PhaseSubmitted Phase = iota
	PhasePolling
	PhaseSucceeded
	PhaseFailed
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitted:
		return "submitted"
	case PhasePolling:
		return "polling"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PollResponse is one status report from the stylization service.
type PollResponse struct {
	Status      string
	ResultURLs  []string
	ErrorReason string
}

type State struct {
	Phase       Phase
	Attempt     int
	MaxAttempts int
	Interval    time.Duration
	LastStatus  string
	ResultURL   string
	Err         error
}

func Submitted(maxAttempts int, interval time.Duration) State {
	return State{Phase: PhaseSubmitted, MaxAttempts: max(1, maxAttempts), Interval: interval}
}

func (s State) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed || s.Phase == PhaseTimedOut
}

// Progress is attempt/maxAttempts as a whole percentage.
func (s State) Progress() int {
	if s.Phase == PhaseSucceeded {
		return 100
	}
	if s.MaxAttempts <= 0 {
		return 0
	}
	return min(100, s.Attempt*100/s.MaxAttempts)
}

func (s State) ProgressText() string {
	switch s.Phase {
	case PhaseSubmitted:
		return "Submitted... (0%)"
	case PhaseSucceeded:
		return "Done (100%)"
	case PhaseFailed:
		return "Failed"
	case PhaseTimedOut:
		return "Timed out"
	}
	status := s.LastStatus
	if status == "" {
		status = "waiting"
	}
	return fmt.Sprintf("%s%s... (%d%%)", strings.ToUpper(status[:1]), status[1:], s.Progress())
}

func isSuccessStatus(status string) bool {
	switch status {
	case "success", "succeeded", "succeed":
		return true
	}
	return false
}

// Transition applies one poll response. Terminal states never change.
func Transition(s State, resp PollResponse) State {
	if s.Terminal() {
		return s
	}

	s.Attempt++
	status := strings.ToLower(strings.TrimSpace(resp.Status))
	s.LastStatus = status

	switch {
	case isSuccessStatus(status):
		u, ok := firstValidURL(resp.ResultURLs)
		if !ok {
			s.Phase = PhaseFailed
			s.Err = ErrNoResultProduced
			return s
		}
		s.Phase = PhaseSucceeded
		s.ResultURL = u
	case status == "failed":
		reason := strings.TrimSpace(resp.ErrorReason)
		if reason == "" {
			reason = "Unknown error"
		}
		s.Phase = PhaseFailed
		s.Err = &JobFailedError{Reason: reason}
	case s.Attempt >= s.MaxAttempts:
		s.Phase = PhaseTimedOut
		s.Err = &TimeoutError{ElapsedSeconds: int((time.Duration(s.MaxAttempts) * s.Interval).Seconds())}
	default:
		s.Phase = PhasePolling
	}
	return s
}

// Abort ends a non-terminal state with err, e.g. when a status query fails
// after its retries.
func Abort(s State, err error) State {
	if s.Terminal() {
		return s
	}
	s.Phase = PhaseFailed
	s.Err = err
	return s
}

func firstValidURL(candidates []string) (string, bool) {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		return raw, true
	}
	return "", false
}
