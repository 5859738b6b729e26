// Package dzine talks to the Dzine.ai image stylization API.
package dzine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dunamismax/printstudio/internal/rest"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/stylize"
)

const (
	DefaultBaseURL = "https://papi.dzine.ai/openapi/v1"

	codeOK                = 200
	codeStyleIncompatible = 108005
)

type Credentials struct {
	APIKey  string
	BaseURL string
}

func (c Credentials) base() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

func (c Credentials) header() http.Header {
	return http.Header{"Authorization": []string{c.APIKey}}
}

type StyleParams struct {
	Prompt         string   `json:"prompt"`
	StyleCode      string   `json:"style_code"`
	StyleIntensity float64  `json:"style_intensity"`
	StructureMatch float64  `json:"structure_match"`
	FaceMatch      *float64 `json:"face_match,omitempty"`
	QualityMode    int      `json:"quality_mode"`
	GenerateSlots  [4]int   `json:"generate_slots"`
}

func (p StyleParams) Validate() error {
	if strings.TrimSpace(p.StyleCode) == "" {
		return errors.New("style_code is required")
	}
	if p.StyleIntensity < 0 || p.StyleIntensity > 1 {
		return fmt.Errorf("style_intensity must be within [0,1], got %g", p.StyleIntensity)
	}
	if p.StructureMatch < 0 || p.StructureMatch > 1 {
		return fmt.Errorf("structure_match must be within [0,1], got %g", p.StructureMatch)
	}
	return nil
}

// withDefaults fills the slot mask when the caller left it empty: one result.
func (p StyleParams) withDefaults() StyleParams {
	if p.GenerateSlots == [4]int{} {
		p.GenerateSlots = [4]int{1, 0, 0, 0}
	}
	return p
}

type createRequest struct {
	StyleParams
	Images []imagePayload `json:"images"`
}

type imagePayload struct {
	Base64Data string `json:"base64_data"`
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type createData struct {
	TaskID string `json:"task_id"`
}

type progressData struct {
	Status              string   `json:"status"`
	GenerateResultSlots []string `json:"generate_result_slots"`
	ErrorReason         string   `json:"error_reason,omitempty"`
}

type Style struct {
	Code      string `json:"style_code"`
	Name      string `json:"name"`
	BaseModel string `json:"base_model"`
	CoverURL  string `json:"cover_url,omitempty"`
}

type styleList struct {
	List  []Style `json:"list"`
	Total int     `json:"total"`
}

type Config struct {
	SubmitAttempts int
	PollAttempts   int
}

type Client struct {
	rest           *rest.Client
	submitAttempts int
	pollAttempts   int
}

func NewClient(restClient *rest.Client, cfg Config) *Client {
	return &Client{
		rest:           restClient,
		submitAttempts: cfg.SubmitAttempts,
		pollAttempts:   cfg.PollAttempts,
	}
}

// Submit creates an image-to-image task and returns its id. A style that
// cannot transform photos fails with stylize.ErrStyleIncompatible without
// retrying; every other failure wraps stylize.ErrSubmissionFailed.
func (c *Client) Submit(ctx context.Context, creds Credentials, image []byte, params StyleParams) (string, error) {
	if strings.TrimSpace(creds.APIKey) == "" {
		return "", fmt.Errorf("%w: dzine api key is not configured", stylize.ErrSubmissionFailed)
	}
	if len(image) == 0 {
		return "", fmt.Errorf("%w: image is empty", stylize.ErrSubmissionFailed)
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", stylize.ErrSubmissionFailed, err)
	}

	body := createRequest{
		StyleParams: params.withDefaults(),
		Images:      []imagePayload{{Base64Data: EncodeImage(image)}},
	}

	var out envelope[createData]
	err := c.rest.Do(ctx, rest.Request{
		Method:   http.MethodPost,
		URL:      creds.base() + "/create_task_img2img",
		Header:   creds.header(),
		Body:     body,
		Attempts: c.submitAttempts,
	}, &out, func() error {
		switch {
		case out.Code == codeStyleIncompatible:
			return retry.Permanent(stylize.ErrStyleIncompatible)
		case out.Code != codeOK:
			return retry.Permanent(fmt.Errorf("%w: code=%d msg=%s", stylize.ErrSubmissionFailed, out.Code, out.Msg))
		case strings.TrimSpace(out.Data.TaskID) == "":
			return retry.Permanent(fmt.Errorf("%w: response has no task_id", stylize.ErrSubmissionFailed))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, stylize.ErrStyleIncompatible) || errors.Is(err, stylize.ErrSubmissionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", stylize.ErrSubmissionFailed, err)
	}
	return out.Data.TaskID, nil
}

func (c *Client) Progress(ctx context.Context, creds Credentials, taskID string) (stylize.PollResponse, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return stylize.PollResponse{}, errors.New("task id is required")
	}

	var out envelope[progressData]
	err := c.rest.Do(ctx, rest.Request{
		Method:   http.MethodGet,
		URL:      creds.base() + "/task_progress/" + url.PathEscape(taskID),
		Header:   creds.header(),
		Attempts: c.pollAttempts,
	}, &out, func() error {
		if out.Code != codeOK {
			return retry.Malformed(fmt.Errorf("task progress code=%d msg=%s", out.Code, out.Msg))
		}
		return nil
	})
	if err != nil {
		return stylize.PollResponse{}, fmt.Errorf("query task %s: %w", taskID, err)
	}

	return stylize.PollResponse{
		Status:      out.Data.Status,
		ResultURLs:  out.Data.GenerateResultSlots,
		ErrorReason: out.Data.ErrorReason,
	}, nil
}

// Fetcher binds creds so the client can drive a stylize.Poller.
func (c *Client) Fetcher(creds Credentials) stylize.Fetcher {
	return stylize.FetcherFunc(func(ctx context.Context, taskID string) (stylize.PollResponse, error) {
		return c.Progress(ctx, creds, taskID)
	})
}

func (c *Client) ListStyles(ctx context.Context, creds Credentials, page, pageSize int) ([]Style, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	q := url.Values{}
	q.Set("page_no", fmt.Sprint(max(0, page)))
	q.Set("page_size", fmt.Sprint(pageSize))

	var out envelope[styleList]
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		URL:    creds.base() + "/style/list?" + q.Encode(),
		Header: creds.header(),
	}, &out, func() error {
		if out.Code != codeOK {
			return retry.Permanent(fmt.Errorf("style list code=%d msg=%s", out.Code, out.Msg))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	return out.Data.List, nil
}

func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// StripDataURL drops a "data:<mime>;base64," prefix if present.
func StripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodeImage accepts raw base64 or a data URL.
func DecodeImage(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(StripDataURL(s))
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}
