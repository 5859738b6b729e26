package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
	JobStatusTimedOut   = "timed_out"

	BudgetStandard = "standard"
	BudgetExtended = "extended"
)

type CreateStylizationRequest struct {
	// Image is raw base64 or a data URL. UploadKey names an object written by
	// POST /v1/uploads. Exactly one must be set.
	Image     string `json:"image,omitempty"`
	UploadKey string `json:"upload_key,omitempty"`

	StyleCode      string   `json:"style_code"`
	Prompt         string   `json:"prompt,omitempty"`
	StyleIntensity *float64 `json:"style_intensity,omitempty"`
	StructureMatch *float64 `json:"structure_match,omitempty"`
	FaceMatch      *float64 `json:"face_match,omitempty"`
	QualityMode    int      `json:"quality_mode,omitempty"`
	Budget         string   `json:"budget,omitempty"`
	WebhookURL     string   `json:"webhook_url,omitempty"`
}

type StylizationJob struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id,omitempty"`
	Status       string    `json:"status"`
	StyleCode    string    `json:"style_code"`
	Budget       string    `json:"budget"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
	Progress     string    `json:"progress,omitempty"`
	ResultURL    string    `json:"result_url,omitempty"`
	ResultKey    string    `json:"result_key,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	UploadKey    string    `json:"upload_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (j StylizationJob) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

func (r CreateStylizationRequest) Validate() error {
	hasImage := strings.TrimSpace(r.Image) != ""
	hasUpload := strings.TrimSpace(r.UploadKey) != ""
	switch {
	case !hasImage && !hasUpload:
		return errors.New("one of image or upload_key is required")
	case hasImage && hasUpload:
		return errors.New("image and upload_key are mutually exclusive")
	}
	if strings.TrimSpace(r.StyleCode) == "" {
		return errors.New("style_code is required")
	}
	for name, v := range map[string]*float64{
		"style_intensity": r.StyleIntensity,
		"structure_match": r.StructureMatch,
		"face_match":      r.FaceMatch,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be within [0,1]", name)
		}
	}
	if r.QualityMode < 0 {
		return errors.New("quality_mode must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(r.Budget)) {
	case "", BudgetStandard, BudgetExtended:
	default:
		return fmt.Errorf("unsupported budget: %s", r.Budget)
	}
	if r.WebhookURL != "" {
		if err := validateHTTPURL(r.WebhookURL); err != nil {
			return fmt.Errorf("webhook_url: %w", err)
		}
	}
	return nil
}

// NormalizedBudget returns the budget name with the standard default applied.
func (r CreateStylizationRequest) NormalizedBudget() string {
	if strings.EqualFold(strings.TrimSpace(r.Budget), BudgetExtended) {
		return BudgetExtended
	}
	return BudgetStandard
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("expected an absolute http(s) url, got %q", raw)
	}
	return nil
}
