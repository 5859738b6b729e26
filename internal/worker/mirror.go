package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/storage"
)

const maxResultBytes = 32 << 20

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey string) (string, error)
}

type MirroredResult struct {
	Key   string
	URL   string
	Bytes int
}

// ResultMirror copies a finished stylization from the upstream CDN into the
// bucket, so checkout and fulfillment get a URL that does not expire with the
// upstream task.
type ResultMirror struct {
	http    *http.Client
	objects objectWriter
	policy  retry.Policy
}

func NewResultMirror(httpClient *http.Client, objects objectWriter, policy retry.Policy) *ResultMirror {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &ResultMirror{http: httpClient, objects: objects, policy: policy}
}

func (m *ResultMirror) Mirror(ctx context.Context, jobID, sourceURL string) (MirroredResult, error) {
	if m.objects == nil {
		return MirroredResult{}, errors.New("object storage is required")
	}

	data, err := m.fetch(ctx, sourceURL)
	if err != nil {
		return MirroredResult{}, err
	}

	format, err := imageFormat(data)
	if err != nil {
		return MirroredResult{}, err
	}

	key := storage.ResultKey(jobID, format)
	if err := m.objects.WriteObject(ctx, key, data, compress.ContentType(format)); err != nil {
		return MirroredResult{}, err
	}
	u, err := m.objects.PresignedGetURL(ctx, key)
	if err != nil {
		return MirroredResult{}, err
	}
	return MirroredResult{Key: key, URL: u, Bytes: len(data)}, nil
}

func (m *ResultMirror) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var data []byte
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build result request: %w", err))
		}
		resp, err := m.http.Do(req)
		if err != nil {
			return retry.Network(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
		if err != nil {
			return retry.Network(fmt.Errorf("read result body: %w", err))
		}
		if err := retry.CheckStatus(resp, body); err != nil {
			return err
		}
		if len(body) > maxResultBytes {
			return retry.Permanent(fmt.Errorf("result exceeds %d bytes", maxResultBytes))
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	return data, nil
}

func imageFormat(data []byte) (string, error) {
	switch ct := http.DetectContentType(data); {
	case ct == "image/jpeg":
		return "jpeg", nil
	case ct == "image/png":
		return "png", nil
	case ct == "image/webp":
		return "webp", nil
	default:
		return "", fmt.Errorf("result is not an image: %s", strings.TrimSpace(ct))
	}
}
