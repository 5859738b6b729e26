package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/domain"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/queue"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/dunamismax/printstudio/internal/store"
	"github.com/dunamismax/printstudio/internal/stylize"
	"github.com/dunamismax/printstudio/internal/telemetry"
	"github.com/dunamismax/printstudio/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	fetchers      fetcherSource
	secrets       secrets.Resolver
	mirror        resultMirror
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
	interval      time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
}

type fetcherSource interface {
	Fetcher(creds dzine.Credentials) stylize.Fetcher
}

type resultMirror interface {
	Mirror(ctx context.Context, jobID, sourceURL string) (MirroredResult, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Dependencies struct {
	Dzine      *dzine.Client
	Secrets    secrets.Resolver
	Mirror     *ResultMirror
	Webhooks   *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	stylizeCfg config.StylizeConfig,
	deps Dependencies,
) (*Server, error) {
	if deps.Dzine == nil {
		return nil, errors.New("dzine client is required")
	}
	if deps.Secrets == nil {
		return nil, errors.New("secrets resolver is required")
	}
	if deps.JobStore == nil {
		return nil, errors.New("job store is required")
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().Err(err).
						Str("task_type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		fetchers:   deps.Dzine,
		secrets:    deps.Secrets,
		jobStore:   deps.JobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     telemetry.Tracer("worker"),
		interval:   stylizeCfg.PollInterval,
		sleep:      retry.Sleep,
		now:        time.Now,
	}
	if deps.Mirror != nil {
		s.mirror = deps.Mirror
	}
	if deps.Webhooks != nil {
		s.webhookClient = deps.Webhooks
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypePollStylization, s.handlePollStylization)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handlePollStylization(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePollStylizationPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.follow(ctx, payload)
}

// follow polls one submitted task to a terminal state and records it. Once the
// job is terminal the handler succeeds even if the webhook fails, since asynq
// retries would only resend the notification.
func (s *Server) follow(ctx context.Context, payload queue.PollStylizationPayload) error {
	startedAt := s.now()
	logger := s.logger.With().Str("job_id", payload.JobID).Str("task_id", payload.TaskID).Logger()

	ctx, span := s.tracer.Start(ctx, "worker.poll_stylization", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.task_id", payload.TaskID),
		attribute.String("job.budget", payload.Budget),
	)
	defer span.End()

	job, ok, err := s.jobStore.Get(ctx, payload.JobID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w: %w", payload.JobID, store.ErrJobNotFound, asynq.SkipRetry)
	}
	if job.Terminal() {
		logger.Info().Str("status", job.Status).Msg("job already finished, skipping")
		return nil
	}

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	maxAttempts := stylize.AttemptsForBudget(payload.Budget)
	job.Status = domain.JobStatusProcessing
	job.Attempt = 0
	job.MaxAttempts = maxAttempts
	s.saveJob(ctx, logger, job)

	logger.Info().Int("max_attempts", maxAttempts).Msg("polling stylization")

	state, runErr := s.poll(ctx, logger, payload.TaskID, maxAttempts, &job)

	// Final writes must land even when the task context was cancelled.
	finalCtx := context.WithoutCancel(ctx)

	// A shutdown cancels the task and asynq requeues it; the upstream task may
	// still finish, so the job goes back to queued for the rerun to follow.
	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil && state.Phase != stylize.PhaseSucceeded {
		job.Status = domain.JobStatusQueued
		s.saveJob(finalCtx, logger, job)
		s.metrics.interrupted.Inc()
		span.SetStatus(codes.Error, "interrupted")
		logger.Warn().Int("attempt", state.Attempt).Msg("stylization polling interrupted, job requeued")
		return runErr
	}

	job = applyState(job, state, runErr)

	if job.Status == domain.JobStatusSucceeded && s.mirror != nil {
		mirrored, err := s.mirror.Mirror(finalCtx, job.ID, job.ResultURL)
		if err != nil {
			s.metrics.mirrorFailures.Inc()
			logger.Warn().Err(err).Msg("result mirror failed, keeping upstream url")
		} else {
			job.ResultKey = mirrored.Key
			job.ResultURL = mirrored.URL
		}
	}

	s.saveJob(finalCtx, logger, job)
	s.recordUsage(finalCtx, logger, job, payload, state.Attempt, s.now().Sub(startedAt))

	s.metrics.jobsTotal.WithLabelValues(job.Status, job.ErrorKind).Inc()
	s.metrics.jobDuration.WithLabelValues(job.Status).Observe(s.now().Sub(startedAt).Seconds())

	span.SetAttributes(
		attribute.String("job.status", job.Status),
		attribute.Int("job.polls", state.Attempt),
	)
	if job.Status == domain.JobStatusSucceeded {
		span.SetStatus(codes.Ok, "stylized")
		logger.Info().Int("attempt", state.Attempt).Str("result_key", job.ResultKey).Msg("stylization succeeded")
	} else {
		if runErr != nil {
			span.RecordError(runErr)
		}
		span.SetStatus(codes.Error, job.ErrorKind)
		logger.Warn().Err(runErr).Int("attempt", state.Attempt).Str("status", job.Status).Msg("stylization did not succeed")
	}

	s.dispatchWebhook(finalCtx, logger, job)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func (s *Server) poll(ctx context.Context, logger zerolog.Logger, taskID string, maxAttempts int, job *domain.StylizationJob) (stylize.State, error) {
	creds, err := s.secrets.Resolve(ctx)
	if err != nil {
		err = fmt.Errorf("resolve credentials: %w", err)
		return stylize.Abort(stylize.Submitted(maxAttempts, s.interval), err), err
	}

	poller := stylize.Poller{
		Fetcher:     s.fetchers.Fetcher(creds.Dzine),
		MaxAttempts: maxAttempts,
		Interval:    s.interval,
		Logger:      logger,
		Sleep:       s.sleep,
		OnProgress: func(st stylize.State) {
			if st.Attempt > 0 && st.Attempt != job.Attempt {
				s.metrics.pollsTotal.Inc()
			}
			if st.Terminal() {
				return
			}
			job.Attempt = st.Attempt
			job.Progress = st.ProgressText()
			s.saveJob(ctx, logger, *job)
		},
	}
	return poller.Run(ctx, taskID)
}

// applyState copies a poll outcome onto the job record.
func applyState(job domain.StylizationJob, st stylize.State, err error) domain.StylizationJob {
	job.Attempt = st.Attempt
	job.Progress = st.ProgressText()
	switch st.Phase {
	case stylize.PhaseSucceeded:
		job.Status = domain.JobStatusSucceeded
		job.ResultURL = st.ResultURL
		job.ErrorKind = ""
		job.ErrorMessage = ""
		return job
	case stylize.PhaseTimedOut:
		job.Status = domain.JobStatusTimedOut
	default:
		st = stylize.Abort(st, err)
		job.Status = domain.JobStatusFailed
		job.Progress = st.ProgressText()
	}
	if err == nil {
		err = st.Err
	}
	job.ErrorKind = stylize.Kind(err)
	job.ErrorMessage = stylize.UserMessage(err)
	return job
}

func (s *Server) saveJob(ctx context.Context, logger zerolog.Logger, job domain.StylizationJob) {
	if err := s.jobStore.Save(ctx, job); err != nil {
		logger.Error().Err(err).Str("status", job.Status).Msg("job update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, logger zerolog.Logger, job domain.StylizationJob) {
	if job.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	event := webhook.EventStylizationFailed
	if job.Status == domain.JobStatusSucceeded {
		event = webhook.EventStylizationSucceeded
	}
	body := map[string]any{
		"job_id":        job.ID,
		"status":        job.Status,
		"style_code":    job.StyleCode,
		"result_url":    job.ResultURL,
		"error_kind":    job.ErrorKind,
		"error_message": job.ErrorMessage,
		"completed_at":  s.now().UTC(),
	}

	if err := s.webhookClient.Send(ctx, job.WebhookURL, event, body); err != nil {
		s.metrics.webhookDeliveries.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Str("event", event).Msg("webhook delivery failed")
		return
	}
	s.metrics.webhookDeliveries.WithLabelValues("delivered").Inc()
}

func (s *Server) recordUsage(ctx context.Context, logger zerolog.Logger, job domain.StylizationJob, payload queue.PollStylizationPayload, polls int, elapsed time.Duration) {
	if s.usageStore == nil {
		return
	}

	usage := domain.UsageLog{
		JobID:       job.ID,
		StyleCode:   job.StyleCode,
		Status:      job.Status,
		Polls:       polls,
		UploadBytes: payload.UploadBytes,
		ElapsedMS:   max(1, elapsed.Milliseconds()),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		logger.Error().Err(err).Msg("usage log write failed")
		return
	}
	s.metrics.uploadBytesTotal.Add(float64(payload.UploadBytes))
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
