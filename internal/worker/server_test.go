package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/printstudio/internal/domain"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/queue"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/dunamismax/printstudio/internal/store"
	"github.com/dunamismax/printstudio/internal/stylize"
	"github.com/dunamismax/printstudio/internal/telemetry"
	"github.com/dunamismax/printstudio/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	responses []stylize.PollResponse
	calls     int
	gotKey    string
}

func (f *scriptedFetcher) Fetcher(creds dzine.Credentials) stylize.Fetcher {
	f.gotKey = creds.APIKey
	return stylize.FetcherFunc(func(context.Context, string) (stylize.PollResponse, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		i := min(f.calls, len(f.responses)-1)
		f.calls++
		return f.responses[i], nil
	})
}

type fakeMirror struct {
	err    error
	source string
}

func (m *fakeMirror) Mirror(_ context.Context, jobID, sourceURL string) (MirroredResult, error) {
	m.source = sourceURL
	if m.err != nil {
		return MirroredResult{}, m.err
	}
	return MirroredResult{Key: "results/" + jobID + ".png", URL: "https://bucket.example.com/results/" + jobID + ".png"}, nil
}

type captureWebhook struct {
	endpoint string
	event    string
	payload  map[string]any
	err      error
}

func (w *captureWebhook) Send(_ context.Context, endpoint, event string, payload any) error {
	w.endpoint = endpoint
	w.event = event
	w.payload, _ = payload.(map[string]any)
	return w.err
}

func newTestServer(t *testing.T, fetcher fetcherSource) (*Server, *store.MemoryJobStore, *int) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	sleeps := 0
	s := &Server{
		logger:     zerolog.Nop(),
		sem:        make(chan struct{}, 1),
		fetchers:   fetcher,
		secrets:    secrets.Static{Dzine: dzine.Credentials{APIKey: "dz-test"}},
		jobStore:   jobs,
		usageStore: jobs,
		metrics:    newMetrics(),
		tracer:     telemetry.Tracer("worker-test"),
		interval:   2 * time.Second,
		sleep: func(context.Context, time.Duration) error {
			sleeps++
			return nil
		},
		now: time.Now,
	}
	return s, jobs, &sleeps
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, job domain.StylizationJob) {
	t.Helper()
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	job.CreatedAt = time.Now().UTC()
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func mustJob(t *testing.T, jobs *store.MemoryJobStore, id string) domain.StylizationJob {
	t.Helper()
	job, ok, err := jobs.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("expected job %s, ok=%v err=%v", id, ok, err)
	}
	return job
}

func pollTask(t *testing.T, payload queue.PollStylizationPayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewPollStylizationTask(payload)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestPollStylizationSucceedsAndMirrorsResult(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{
		{Status: "processing"},
		{Status: "succeeded", ResultURLs: []string{"", "https://cdn.example.com/out.png"}},
	}}
	s, jobs, sleeps := newTestServer(t, fetcher)
	mirror := &fakeMirror{}
	hooks := &captureWebhook{}
	s.mirror = mirror
	s.webhookClient = hooks
	seedJob(t, jobs, domain.StylizationJob{ID: "job-1", TaskID: "task-1", StyleCode: "anime", WebhookURL: "https://hooks.example.com/x"})

	err := s.handlePollStylization(context.Background(), pollTask(t, queue.PollStylizationPayload{
		JobID: "job-1", TaskID: "task-1", Budget: domain.BudgetStandard, UploadBytes: 2048,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	job := mustJob(t, jobs, "job-1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.ResultKey != "results/job-1.png" || !strings.HasPrefix(job.ResultURL, "https://bucket.example.com/") {
		t.Fatalf("expected mirrored result, got key=%q url=%q", job.ResultKey, job.ResultURL)
	}
	if mirror.source != "https://cdn.example.com/out.png" {
		t.Fatalf("expected first valid upstream url to be mirrored, got %q", mirror.source)
	}
	if job.Attempt != 2 || job.MaxAttempts != stylize.StandardAttempts {
		t.Fatalf("unexpected attempt bookkeeping %d/%d", job.Attempt, job.MaxAttempts)
	}
	if *sleeps != 1 {
		t.Fatalf("expected one interval wait between two polls, got %d", *sleeps)
	}
	if fetcher.gotKey != "dz-test" {
		t.Fatalf("expected resolved credentials to reach the fetcher, got %q", fetcher.gotKey)
	}
	if hooks.event != webhook.EventStylizationSucceeded || hooks.payload["result_url"] != job.ResultURL {
		t.Fatalf("unexpected webhook %s %+v", hooks.event, hooks.payload)
	}

	usage := jobs.UsageLogs()
	if len(usage) != 1 || usage[0].Polls != 2 || usage[0].UploadBytes != 2048 || usage[0].Status != domain.JobStatusSucceeded {
		t.Fatalf("unexpected usage logs %+v", usage)
	}
	if got := testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues(domain.JobStatusSucceeded, "")); got != 1 {
		t.Fatalf("expected one succeeded job metric, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.pollsTotal); got != 2 {
		t.Fatalf("expected 2 polls counted, got %v", got)
	}
}

func TestPollStylizationRecordsJobFailure(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "failed", ErrorReason: "content rejected"}}}
	s, jobs, _ := newTestServer(t, fetcher)
	hooks := &captureWebhook{}
	s.webhookClient = hooks
	seedJob(t, jobs, domain.StylizationJob{ID: "job-2", TaskID: "task-2", WebhookURL: "https://hooks.example.com/x"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-2", TaskID: "task-2"}); err != nil {
		t.Fatalf("follow: %v", err)
	}

	job := mustJob(t, jobs, "job-2")
	if job.Status != domain.JobStatusFailed || job.ErrorKind != stylize.KindJobFailed {
		t.Fatalf("expected job_failed, got %s/%s", job.Status, job.ErrorKind)
	}
	if !strings.Contains(job.ErrorMessage, "content rejected") {
		t.Fatalf("expected reason in user message, got %q", job.ErrorMessage)
	}
	if hooks.event != webhook.EventStylizationFailed {
		t.Fatalf("expected failure webhook, got %s", hooks.event)
	}
}

func TestPollStylizationTimesOutAfterBudget(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}}
	s, jobs, sleeps := newTestServer(t, fetcher)
	seedJob(t, jobs, domain.StylizationJob{ID: "job-3", TaskID: "task-3"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-3", TaskID: "task-3", Budget: domain.BudgetExtended}); err != nil {
		t.Fatalf("follow: %v", err)
	}

	job := mustJob(t, jobs, "job-3")
	if job.Status != domain.JobStatusTimedOut || job.ErrorKind != stylize.KindTimeout {
		t.Fatalf("expected timeout, got %s/%s", job.Status, job.ErrorKind)
	}
	if fetcher.calls != stylize.ExtendedAttempts || *sleeps != stylize.ExtendedAttempts-1 {
		t.Fatalf("expected %d polls, got %d polls and %d waits", stylize.ExtendedAttempts, fetcher.calls, *sleeps)
	}
}

func TestPollStylizationKeepsUpstreamURLWhenMirrorFails(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "success", ResultURLs: []string{"https://cdn.example.com/a.jpg"}}}}
	s, jobs, _ := newTestServer(t, fetcher)
	s.mirror = &fakeMirror{err: errors.New("bucket offline")}
	seedJob(t, jobs, domain.StylizationJob{ID: "job-4", TaskID: "task-4"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-4", TaskID: "task-4"}); err != nil {
		t.Fatalf("follow: %v", err)
	}

	job := mustJob(t, jobs, "job-4")
	if job.Status != domain.JobStatusSucceeded || job.ResultURL != "https://cdn.example.com/a.jpg" || job.ResultKey != "" {
		t.Fatalf("expected upstream url kept, got %+v", job)
	}
	if got := testutil.ToFloat64(s.metrics.mirrorFailures); got != 1 {
		t.Fatalf("expected mirror failure metric, got %v", got)
	}
}

func TestPollStylizationWebhookFailureDoesNotFailTask(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "success", ResultURLs: []string{"https://cdn.example.com/a.jpg"}}}}
	s, jobs, _ := newTestServer(t, fetcher)
	s.webhookClient = &captureWebhook{err: errors.New("410 gone")}
	seedJob(t, jobs, domain.StylizationJob{ID: "job-5", TaskID: "task-5", WebhookURL: "https://hooks.example.com/x"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-5", TaskID: "task-5"}); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if got := testutil.ToFloat64(s.metrics.webhookDeliveries.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected failed delivery metric, got %v", got)
	}
}

func TestPollStylizationSkipsTerminalJobs(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}}
	s, jobs, _ := newTestServer(t, fetcher)
	seedJob(t, jobs, domain.StylizationJob{ID: "job-6", TaskID: "task-6", Status: domain.JobStatusSucceeded})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-6", TaskID: "task-6"}); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no polls for a finished job, got %d", fetcher.calls)
	}
}

func TestPollStylizationUnknownJobSkipsRetry(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}})

	err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "missing", TaskID: "t"})
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected skip-retry not-found error, got %v", err)
	}
}

func TestPollStylizationRejectsBadPayload(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}})

	err := s.handlePollStylization(context.Background(), asynq.NewTask(queue.TypePollStylization, []byte(`{"job_id":""}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry, got %v", err)
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context) (secrets.Credentials, error) {
	return secrets.Credentials{}, errors.New("ssm unavailable")
}

func TestPollStylizationFailsJobWhenCredentialsUnavailable(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}}
	s, jobs, _ := newTestServer(t, fetcher)
	s.secrets = failingResolver{}
	seedJob(t, jobs, domain.StylizationJob{ID: "job-7", TaskID: "task-7"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-7", TaskID: "task-7"}); err != nil {
		t.Fatalf("follow: %v", err)
	}
	job := mustJob(t, jobs, "job-7")
	if job.Status != domain.JobStatusFailed || job.ErrorMessage == "" {
		t.Fatalf("expected failed job with a message, got %+v", job)
	}
	if fetcher.calls != 0 {
		t.Fatal("expected no polls without credentials")
	}
}

func TestPollStylizationRequeuesJobWhenInterrupted(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "processing"}}}
	s, jobs, _ := newTestServer(t, fetcher)
	hooks := &captureWebhook{}
	s.webhookClient = hooks
	seedJob(t, jobs, domain.StylizationJob{ID: "job-s", TaskID: "task-s", StyleCode: "anime", WebhookURL: "https://hooks.example.com/x"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := s.follow(ctx, queue.PollStylizationPayload{JobID: "job-s", TaskID: "task-s", Budget: domain.BudgetStandard})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to reach asynq, got %v", err)
	}

	job := mustJob(t, jobs, "job-s")
	if job.Status != domain.JobStatusQueued || job.ErrorKind != "" {
		t.Fatalf("expected interrupted job back in queue, got %s (%s)", job.Status, job.ErrorKind)
	}
	if hooks.event != "" {
		t.Fatalf("expected no webhook for an interrupted job, got %s", hooks.event)
	}
	if usage := jobs.UsageLogs(); len(usage) != 0 {
		t.Fatalf("expected no usage for an interrupted job, got %+v", usage)
	}
	if got := testutil.ToFloat64(s.metrics.interrupted); got != 1 {
		t.Fatalf("expected one interrupted job metric, got %v", got)
	}

	// The requeued task picks the job up again and finishes it.
	fetcher.responses = []stylize.PollResponse{{Status: "succeeded", ResultURLs: []string{"https://cdn.example.com/out.png"}}}
	fetcher.calls = 0
	s.sleep = func(context.Context, time.Duration) error { return nil }
	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-s", TaskID: "task-s", Budget: domain.BudgetStandard}); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if job := mustJob(t, jobs, "job-s"); job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected rerun to succeed, got %s", job.Status)
	}
	if hooks.event != webhook.EventStylizationSucceeded {
		t.Fatalf("expected success webhook after rerun, got %s", hooks.event)
	}
}

func TestPollStylizationLogsStructuredProgress(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []stylize.PollResponse{{Status: "succeeded", ResultURLs: []string{"https://cdn.example.com/out.png"}}}}
	s, jobs, _ := newTestServer(t, fetcher)
	var logs bytes.Buffer
	s.logger = zerolog.New(&logs)
	seedJob(t, jobs, domain.StylizationJob{ID: "job-l", TaskID: "task-l"})

	if err := s.follow(context.Background(), queue.PollStylizationPayload{JobID: "job-l", TaskID: "task-l", Budget: domain.BudgetExtended}); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if !strings.Contains(logs.String(), `"max_attempts":60,"message":"polling stylization"`) {
		t.Fatalf("expected polling start log, got %s", logs.String())
	}
}
