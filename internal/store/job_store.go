package store

import (
	"context"
	"errors"

	"github.com/dunamismax/printstudio/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.StylizationJob) error
	Get(ctx context.Context, id string) (domain.StylizationJob, bool, error)
	// Save replaces a stored job; it fails with ErrJobNotFound for unknown ids.
	Save(ctx context.Context, job domain.StylizationJob) error
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
