package domain

import "time"

// UsageLog is one finished stylization as billed against the upstream quota.
type UsageLog struct {
	JobID       string
	StyleCode   string
	Status      string
	Polls       int
	UploadBytes int64
	ElapsedMS   int64
	CreatedAt   time.Time
}
