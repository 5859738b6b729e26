package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/dunamismax/printstudio/internal/domain"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/id"
	"github.com/dunamismax/printstudio/internal/queue"
	"github.com/dunamismax/printstudio/internal/storage"
	"github.com/dunamismax/printstudio/internal/stylize"
)

const (
	defaultStyleIntensity = 0.8
	defaultStructureMatch = 0.7
)

// handleUpload accepts a raw image body, shrinks it for stylization and keeps
// it under uploads/.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.encoder == nil {
		unavailable(w, "image encoder")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload body")
		return
	}
	if int64(len(body)) > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(s.opts.MaxUploadBytes, 10)+" bytes")
		return
	}

	res, err := compress.Image(r.Context(), s.encoder, body, s.opts.Compress)
	if err != nil {
		if errors.Is(err, compress.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, "upload body is empty")
			return
		}
		if errors.Is(err, compress.ErrImageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload dimensions are too large")
			return
		}
		writeError(w, http.StatusUnsupportedMediaType, "upload is not a supported image")
		return
	}

	key := storage.UploadKey(id.New())
	if err := s.storage.WriteObject(r.Context(), key, res.Data, compress.ContentType(res.Format)); err != nil {
		s.logger.Error().Err(err).Str("object_key", key).Msg("upload write failed")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(res.Data)))
	url, err := s.storage.PresignedGetURL(r.Context(), key)
	if err != nil {
		s.logger.Warn().Err(err).Str("object_key", key).Msg("presign upload failed")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload_key":     key,
		"url":            url,
		"width":          res.Width,
		"height":         res.Height,
		"bytes":          len(res.Data),
		"original_bytes": len(body),
		"resized":        res.Resized,
	})
}

func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	if s.stylizer == nil {
		unavailable(w, "stylization")
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := min(queryInt(r, "page_size", 20), 100)

	creds, err := s.secrets.Resolve(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve credentials failed")
		writeError(w, http.StatusServiceUnavailable, "credentials are unavailable")
		return
	}
	styles, err := s.stylizer.ListStyles(r.Context(), creds.Dzine, page, pageSize)
	if err != nil {
		s.metrics.partnerErrors.WithLabelValues("dzine").Inc()
		s.logger.Error().Err(err).Msg("list styles failed")
		writeError(w, http.StatusBadGateway, stylize.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"styles": styles, "page": page, "page_size": pageSize})
}

// handleCreateStylization submits the photo upstream, records a queued job and
// hands polling to the worker.
func (s *Server) handleCreateStylization(w http.ResponseWriter, r *http.Request) {
	if s.stylizer == nil || s.queueClient == nil || s.jobStore == nil {
		unavailable(w, "stylization")
		return
	}

	var req domain.CreateStylizationRequest
	if err := decodeJSONLimited(r, &req, s.imageBodyLimit()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	photo, status, err := s.stylizationPhoto(r, req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	creds, err := s.secrets.Resolve(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve credentials failed")
		writeError(w, http.StatusServiceUnavailable, "credentials are unavailable")
		return
	}

	params := dzine.StyleParams{
		Prompt:         req.Prompt,
		StyleCode:      req.StyleCode,
		StyleIntensity: floatOr(req.StyleIntensity, defaultStyleIntensity),
		StructureMatch: floatOr(req.StructureMatch, defaultStructureMatch),
		FaceMatch:      req.FaceMatch,
		QualityMode:    req.QualityMode,
	}
	taskID, err := s.stylizer.Submit(r.Context(), creds.Dzine, photo, params)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, stylize.ErrStyleIncompatible) {
			status = http.StatusUnprocessableEntity
		} else {
			s.metrics.partnerErrors.WithLabelValues("dzine").Inc()
		}
		s.metrics.submissions.WithLabelValues(stylize.Kind(err)).Inc()
		s.logger.Warn().Err(err).Str("style_code", req.StyleCode).Msg("stylization submit failed")
		writeJSON(w, status, map[string]string{
			"error":      stylize.UserMessage(err),
			"error_kind": stylize.Kind(err),
		})
		return
	}

	now := s.now().UTC()
	budget := req.NormalizedBudget()
	job := domain.StylizationJob{
		ID:          id.New(),
		TaskID:      taskID,
		Status:      domain.JobStatusQueued,
		StyleCode:   req.StyleCode,
		Budget:      budget,
		MaxAttempts: stylize.AttemptsForBudget(budget),
		Progress:    stylize.Submitted(stylize.AttemptsForBudget(budget), stylize.DefaultInterval).ProgressText(),
		WebhookURL:  req.WebhookURL,
		UploadKey:   req.UploadKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueuePollStylization(r.Context(), queue.PollStylizationPayload{
		JobID:       job.ID,
		TaskID:      taskID,
		Budget:      budget,
		WebhookURL:  req.WebhookURL,
		UploadBytes: int64(len(photo)),
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		job.Status = domain.JobStatusFailed
		job.ErrorKind = stylize.KindUnknown
		job.ErrorMessage = stylize.UserMessage(err)
		if saveErr := s.jobStore.Save(r.Context(), job); saveErr != nil {
			s.logger.Error().Err(saveErr).Str("job_id", job.ID).Msg("mark job failed")
		}
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}
	s.metrics.enqueued.WithLabelValues(taskInfo.Queue).Inc()
	s.metrics.submissions.WithLabelValues("accepted").Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job":        job,
		"status_url": "/v1/stylizations/" + job.ID,
	})
}

// stylizationPhoto returns the compressed photo bytes named by req.
func (s *Server) stylizationPhoto(r *http.Request, req domain.CreateStylizationRequest) ([]byte, int, error) {
	if key := strings.TrimSpace(req.UploadKey); key != "" {
		if !storage.IsUploadKey(key) {
			return nil, http.StatusBadRequest, errors.New("upload_key must come from POST /v1/uploads")
		}
		data, err := s.storage.ReadObject(r.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, http.StatusNotFound, errors.New("upload not found")
			}
			s.logger.Warn().Err(err).Str("object_key", key).Msg("read upload failed")
			return nil, http.StatusBadGateway, errors.New("upload could not be loaded")
		}
		return data, 0, nil
	}

	data, err := dzine.DecodeImage(req.Image)
	if err != nil || len(data) == 0 {
		return nil, http.StatusBadRequest, errors.New("image must be base64 or a data URL")
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, errors.New("image is too large")
	}
	return compress.Compress(data, s.opts.Compress.MaxWidth, s.opts.Compress.Quality), 0, nil
}

func (s *Server) handleGetStylization(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		unavailable(w, "job store")
		return
	}
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
