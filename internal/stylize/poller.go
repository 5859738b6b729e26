package stylize

import (
	"context"
	"strings"
	"time"

	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval = 2 * time.Second

	StandardAttempts = 30
	ExtendedAttempts = 60
)

// AttemptsForBudget maps a caller-selected budget name to a poll count.
func AttemptsForBudget(budget string) int {
	if strings.EqualFold(strings.TrimSpace(budget), "extended") {
		return ExtendedAttempts
	}
	return StandardAttempts
}

// Fetcher queries the current status of a remote task. Implementations apply
// their own retry policy per query.
type Fetcher interface {
	Progress(ctx context.Context, taskID string) (PollResponse, error)
}

type FetcherFunc func(ctx context.Context, taskID string) (PollResponse, error)

func (f FetcherFunc) Progress(ctx context.Context, taskID string) (PollResponse, error) {
	return f(ctx, taskID)
}

type Poller struct {
	Fetcher     Fetcher
	MaxAttempts int
	Interval    time.Duration
	Logger      zerolog.Logger

	// OnProgress receives every intermediate and the terminal state.
	OnProgress func(State)
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Run polls taskID until a terminal state. Queries are spaced by Interval; no
// wait follows the last query.
func (p Poller) Run(ctx context.Context, taskID string) (State, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = StandardAttempts
	}

	state := Submitted(attempts, interval)
	p.emit(state)

	for !state.Terminal() {
		if state.Attempt > 0 {
			if err := sleep(ctx, interval); err != nil {
				return state, err
			}
		}

		resp, err := p.Fetcher.Progress(ctx, taskID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return state, ctxErr
			}
			state = Abort(state, err)
			p.emit(state)
			break
		}

		state = Transition(state, resp)
		p.Logger.Debug().
			Str("task_id", taskID).
			Int("attempt", state.Attempt).
			Str("status", state.LastStatus).
			Msg("stylization poll")
		p.emit(state)
	}

	if state.Phase != PhaseSucceeded {
		return state, state.Err
	}
	return state, nil
}

func (p Poller) emit(s State) {
	if p.OnProgress != nil {
		p.OnProgress(s)
	}
}
