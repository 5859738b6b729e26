package dzine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/printstudio/internal/rest"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/stylize"
	"github.com/rs/zerolog"
)

func newTestClient() *Client {
	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return NewClient(rest.NewClient(nil, policy), Config{SubmitAttempts: 3, PollAttempts: 3})
}

func TestSubmitSendsPayloadAndReturnsTaskID(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create_task_img2img" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "key-1" {
			t.Fatalf("expected api key in Authorization header, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":{"task_id":"task-9"}}`))
	}))
	defer server.Close()

	taskID, err := newTestClient().Submit(context.Background(),
		Credentials{APIKey: "key-1", BaseURL: server.URL},
		[]byte("png-bytes"),
		StyleParams{StyleCode: "S1", StyleIntensity: 0.7, StructureMatch: 0.5, QualityMode: 1},
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if taskID != "task-9" {
		t.Fatalf("expected task-9, got %q", taskID)
	}

	images, _ := got["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("expected one image, got %v", got["images"])
	}
	first, _ := images[0].(map[string]any)
	if first["base64_data"] != EncodeImage([]byte("png-bytes")) {
		t.Fatalf("unexpected base64 payload %v", first["base64_data"])
	}
	if got["style_code"] != "S1" {
		t.Fatalf("expected style_code S1, got %v", got["style_code"])
	}
	if _, ok := got["face_match"]; ok {
		t.Fatal("face_match should be omitted when unset")
	}
	slots, _ := got["generate_slots"].([]any)
	if len(slots) != 4 || slots[0] != float64(1) {
		t.Fatalf("expected default slot mask, got %v", got["generate_slots"])
	}
}

func TestSubmitStyleIncompatibleDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":108005,"msg":"style not support img2img"}`))
	}))
	defer server.Close()

	_, err := newTestClient().Submit(context.Background(),
		Credentials{APIKey: "k", BaseURL: server.URL}, []byte("x"), StyleParams{StyleCode: "S2"})
	if !errors.Is(err, stylize.ErrStyleIncompatible) {
		t.Fatalf("expected ErrStyleIncompatible, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
}

func TestSubmitRetriesServerErrorsThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient().Submit(context.Background(),
		Credentials{APIKey: "k", BaseURL: server.URL}, []byte("x"), StyleParams{StyleCode: "S3"})
	if !errors.Is(err, stylize.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	var status *retry.StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped 502, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSubmitUnknownCodeIsSubmissionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":500123,"msg":"quota"}`))
	}))
	defer server.Close()

	_, err := newTestClient().Submit(context.Background(),
		Credentials{APIKey: "k", BaseURL: server.URL}, []byte("x"), StyleParams{StyleCode: "S4"})
	if !errors.Is(err, stylize.ErrSubmissionFailed) || errors.Is(err, stylize.ErrStyleIncompatible) {
		t.Fatalf("expected plain submission failure, got %v", err)
	}
}

func TestSubmitRejectsMissingKey(t *testing.T) {
	_, err := newTestClient().Submit(context.Background(), Credentials{}, []byte("x"), StyleParams{StyleCode: "S"})
	if !errors.Is(err, stylize.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestProgressMapsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task_progress/task-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"status":"succeed","generate_result_slots":["","https://cdn/x.png"]}}`))
	}))
	defer server.Close()

	resp, err := newTestClient().Progress(context.Background(), Credentials{APIKey: "k", BaseURL: server.URL}, "task-1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if resp.Status != "succeed" || len(resp.ResultURLs) != 2 || resp.ResultURLs[1] != "https://cdn/x.png" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestProgressMalformedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>oops`))
	}))
	defer server.Close()

	_, err := newTestClient().Progress(context.Background(), Credentials{APIKey: "k", BaseURL: server.URL}, "t")
	if !errors.Is(err, retry.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetcherDrivesPoller(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"code":200,"data":{"status":"processing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"status":"success","generate_result_slots":["https://cdn/y.png"]}}`))
	}))
	defer server.Close()

	client := newTestClient()
	poller := stylize.Poller{
		Fetcher:     client.Fetcher(Credentials{APIKey: "k", BaseURL: server.URL}),
		MaxAttempts: 5,
		Logger:      zerolog.Nop(),
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	state, err := poller.Run(context.Background(), "t")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if state.ResultURL != "https://cdn/y.png" {
		t.Fatalf("unexpected result %q", state.ResultURL)
	}
}

func TestListStyles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_size") != "100" {
			t.Fatalf("expected default page size, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"list":[{"style_code":"A","name":"Anime"}],"total":1}}`))
	}))
	defer server.Close()

	styles, err := newTestClient().ListStyles(context.Background(), Credentials{APIKey: "k", BaseURL: server.URL}, 0, 0)
	if err != nil {
		t.Fatalf("list styles: %v", err)
	}
	if len(styles) != 1 || styles[0].Code != "A" || styles[0].Name != "Anime" {
		t.Fatalf("unexpected styles %+v", styles)
	}
}

func TestStripDataURL(t *testing.T) {
	cases := map[string]string{
		"data:image/png;base64,QUJD": "QUJD",
		"QUJD":                       "QUJD",
		"  data:image/jpeg;base64,":  "",
	}
	for in, want := range cases {
		if got := StripDataURL(in); got != want {
			t.Fatalf("StripDataURL(%q) = %q, want %q", in, got, want)
		}
	}
	data, err := DecodeImage("data:image/png;base64,QUJD")
	if err != nil || string(data) != "ABC" {
		t.Fatalf("unexpected decode %q %v", data, err)
	}
}
