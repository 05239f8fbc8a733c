package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/mediafetch/internal/backend/inproc"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/storage"
)

const maxBodyBytes = 64 * 1024

// Jobs is the part of downloader.Manager the handler drives.
type Jobs interface {
	Submit(ctx context.Context, req media.Request) (*downloader.Job, error)
	Get(id string) (*downloader.Job, bool)
	Latest() (*downloader.Job, bool)
	Snapshot(id string) (progress.Record, bool)
	Cancel(id string) error
	Wait(ctx context.Context, id string) (media.Outcome, error)
}

// EventSource hands out per-download event subscriptions.
type EventSource interface {
	SubscribeTo(downloadID string) *events.Subscription
}

// InfoFetcher looks up video metadata without downloading.
type InfoFetcher interface {
	Info(ctx context.Context, url string) (*inproc.Info, error)
}

type DownloadHandler struct {
	jobs        Jobs
	history     storage.OutcomeRepository
	events      EventSource
	info        InfoFetcher
	downloadDir string
	validate    *validator.Validate
}

// NewDownloadHandler creates a new download handler. history and info may be
// nil; the endpoints that need them then answer 501.
func NewDownloadHandler(jobs Jobs, history storage.OutcomeRepository, source EventSource, info InfoFetcher, downloadDir string) *DownloadHandler {
	return &DownloadHandler{
		jobs:        jobs,
		history:     history,
		events:      source,
		info:        info,
		downloadDir: downloadDir,
		validate:    validator.New(),
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/download", h.HandleDownload)
		r.Get("/progress", h.HandleProgress)
		r.Post("/video-info", h.HandleVideoInfo)
		r.Get("/qualities", h.HandleQualities)
		r.Get("/download-file/{filename}", h.HandleFile)
		r.Delete("/blocked", h.HandleUnblock)

		r.Get("/downloads", h.HandleList)
		r.Get("/downloads/{id}", h.HandleGet)
		r.Delete("/downloads/{id}", h.HandleCancel)
		r.Get("/downloads/{id}/events", h.HandleEvents)
	})

	return r
}

func (h *DownloadHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DownloadHandler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &media.ValidationError{Field: "body", Reason: "invalid JSON body", Err: err}
	}

	return h.validate.Struct(v)
}

// HandleDownload submits a download. By default it answers 202 right away;
// with "wait" it answers once the download has ended.
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var body DownloadRequest
	if err := h.decode(w, r, &body); err != nil {
		writeError(w, r, err)

		return
	}

	kind, err := media.ParseKind(body.Type)
	if err != nil {
		writeError(w, r, err)

		return
	}

	if strings.TrimSpace(body.Quality) == "" {
		body.Quality = quality.Default(kind)
	}

	req := media.Request{
		URL:      strings.TrimSpace(body.URL),
		Kind:     kind,
		Quality:  body.Quality,
		DestDir:  h.downloadDir,
		Filename: strings.TrimSpace(body.Filename),
		Force:    body.Force,
	}

	// reject what the orchestrator would reject before creating a job
	if err := req.Validate(); err != nil {
		writeError(w, r, err)

		return
	}

	if _, err := quality.Resolve(req.Kind, req.Quality); err != nil {
		writeError(w, r, err)

		return
	}

	job, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	logger.Debug("download accepted", "download_id", job.ID, "wait", body.Wait)

	if !body.Wait {
		writeJSON(w, r, http.StatusAccepted, SubmittedResponse{
			DownloadID: job.ID,
			StatusURL:  "/api/downloads/" + job.ID,
			EventsURL:  "/api/downloads/" + job.ID + "/events",
		})

		return
	}

	out, err := h.jobs.Wait(r.Context(), job.ID)
	if err != nil {
		// the client went away; the download keeps running
		logger.Info("stopped waiting for download", "download_id", job.ID, "err", err)

		return
	}

	if !out.Success {
		writeJSON(w, r, kindStatus(out.Kind), ErrorResponse{Error: out.Error, ErrorKind: out.Kind, Attempts: out.Attempts})

		return
	}

	writeJSON(w, r, http.StatusOK, ResultResponse{
		Success:    true,
		DownloadID: job.ID,
		Filename:   filepath.Base(out.ArtifactPath),
		Path:       out.ArtifactPath,
		Title:      out.Title,
		Backend:    string(out.Backend),
		Degraded:   out.Degraded,
		Warnings:   out.Warnings,
		FinishedAt: out.FinishedAt,
	})
}

// HandleProgress reports the most recently submitted download.
func (h *DownloadHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Latest()
	if !ok {
		writeJSON(w, r, http.StatusOK, newProgressResponse("", progress.Record{Status: progress.StatusIdle}, nil))

		return
	}

	rec, _ := h.jobs.Snapshot(job.ID)

	var outcome *media.Outcome
	if out, done := job.Outcome(); done {
		outcome = &out
	}

	writeJSON(w, r, http.StatusOK, newProgressResponse(job.ID, rec, outcome))
}

func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if job, ok := h.jobs.Get(id); ok {
		rec, hasRecord := h.jobs.Snapshot(id)
		writeJSON(w, r, http.StatusOK, newJobResponse(job, rec, hasRecord))

		return
	}

	if h.history == nil {
		writeError(w, r, downloader.ErrJobNotFound)

		return
	}

	rec, err := h.history.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, newRecordResponse(rec))
}

// HandleList lists recorded outcomes, newest first.
func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history is not enabled", http.StatusNotImplemented)

		return
	}

	q := r.URL.Query()

	status, err := storage.ParseStatus(q.Get("status"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	filter := storage.Filter{Status: status, URL: q.Get("url")}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, &media.ValidationError{Field: "limit", Reason: "must be a positive integer"})

			return
		}

		filter.Limit = limit
	}

	records, err := h.history.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to list downloads: %w", err))

		return
	}

	out := make([]JobResponse, len(records))
	for i, rec := range records {
		out[i] = newRecordResponse(rec)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"downloads": out})
}

func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.jobs.Cancel(id); err != nil {
		writeError(w, r, err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("download cancelled by client", "download_id", id)

	w.WriteHeader(http.StatusAccepted)
}

// HandleUnblock clears a recorded unavailable outcome so the URL is tried
// again.
func (h *DownloadHandler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history is not enabled", http.StatusNotImplemented)

		return
	}

	url := r.URL.Query().Get("url")
	if _, err := media.RecognizeSource(url); err != nil {
		writeError(w, r, err)

		return
	}

	n, err := h.history.Unblock(r.Context(), url)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to unblock url: %w", err))

		return
	}

	writeJSON(w, r, http.StatusOK, map[string]int64{"cleared": n})
}

func (h *DownloadHandler) HandleVideoInfo(w http.ResponseWriter, r *http.Request) {
	if h.info == nil {
		http.Error(w, "video info is not enabled", http.StatusNotImplemented)

		return
	}

	var body VideoInfoRequest
	if err := h.decode(w, r, &body); err != nil {
		writeError(w, r, err)

		return
	}

	url := strings.TrimSpace(body.URL)
	if _, err := media.RecognizeSource(url); err != nil {
		writeError(w, r, err)

		return
	}

	info, err := h.info.Info(r.Context(), url)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "info": info})
}

func (h *DownloadHandler) HandleQualities(w http.ResponseWriter, r *http.Request) {
	var resp QualitiesResponse

	switch t := r.URL.Query().Get("type"); t {
	case "":
		resp.Video = quality.Options(media.KindVideo)
		resp.Audio = quality.Options(media.KindAudio)
	default:
		kind, err := media.ParseKind(t)
		if err != nil {
			writeError(w, r, err)

			return
		}

		if kind == media.KindAudio {
			resp.Audio = quality.Options(kind)
		} else {
			resp.Video = quality.Options(kind)
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleFile serves a finished file from the download directory.
func (h *DownloadHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		writeError(w, r, &media.ValidationError{Field: "filename", Reason: "invalid file name"})

		return
	}

	path := filepath.Join(h.downloadDir, name)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logctx.LoggerFromContext(r.Context()).Error("failed to stat file", "file", path, "err", err)
		}

		writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "file not found"})

		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
