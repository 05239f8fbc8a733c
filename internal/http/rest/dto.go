package rest

import (
	"time"

	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/storage"
)

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Type     string `json:"type" validate:"omitempty,oneof=video audio"`
	Quality  string `json:"quality" validate:"omitempty,max=16"`
	Filename string `json:"filename" validate:"omitempty,max=200"`
	Force    bool   `json:"force"`
	// Wait blocks the response until the download ends.
	Wait bool `json:"wait"`
}

// VideoInfoRequest is the body of POST /api/video-info.
type VideoInfoRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type ErrorResponse struct {
	Error     string               `json:"error"`
	ErrorKind media.ErrorKind      `json:"error_kind,omitempty"`
	Attempts  []media.AttemptError `json:"attempts,omitempty"`
}

type SubmittedResponse struct {
	DownloadID string `json:"download_id"`
	StatusURL  string `json:"status_url"`
	EventsURL  string `json:"events_url"`
}

// ResultResponse is returned by a waiting download request.
type ResultResponse struct {
	Success    bool      `json:"success"`
	DownloadID string    `json:"download_id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Title      string    `json:"title,omitempty"`
	Backend    string    `json:"backend"`
	Degraded   bool      `json:"degraded,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// ProgressResponse keeps the shape of the single-download polling endpoint
// and adds the structured record.
type ProgressResponse struct {
	DownloadID string          `json:"download_id,omitempty"`
	Status     progress.Status `json:"status"`
	Percentage float64         `json:"percentage"`
	Speed      string          `json:"speed"`
	ETA        string          `json:"eta"`
	Downloaded string          `json:"downloaded"`
	Total      string          `json:"total"`
	Filename   string          `json:"filename"`
	Error      string          `json:"error"`
	Record     progress.Record `json:"record"`
}

func newProgressResponse(id string, rec progress.Record, out *media.Outcome) ProgressResponse {
	d := progress.Format(rec)

	resp := ProgressResponse{
		DownloadID: id,
		Status:     rec.Status,
		Percentage: rec.Percentage,
		Speed:      d.Speed,
		ETA:        d.ETA,
		Downloaded: d.Downloaded,
		Total:      d.Total,
		Filename:   rec.Filename,
		Record:     rec,
	}

	if out != nil && !out.Success {
		resp.Error = out.Error
	}

	return resp
}

// JobResponse describes one download, running or recorded.
type JobResponse struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Type        media.Kind        `json:"type"`
	Quality     string            `json:"quality"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
	Progress    *ProgressResponse `json:"progress,omitempty"`
	Outcome     *media.Outcome    `json:"outcome,omitempty"`
}

func newJobResponse(j *downloader.Job, rec progress.Record, hasRecord bool) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		URL:         j.Request.URL,
		Type:        j.Request.Kind,
		Quality:     j.Request.Quality,
		SubmittedAt: &j.SubmittedAt,
	}

	var outcome *media.Outcome
	if out, ok := j.Outcome(); ok {
		outcome = &out
		resp.Outcome = outcome
	}

	if hasRecord {
		p := newProgressResponse(j.ID, rec, outcome)
		resp.Progress = &p
	}

	return resp
}

func newRecordResponse(r storage.Record) JobResponse {
	out := r.Outcome

	return JobResponse{
		ID:      r.ID,
		URL:     r.URL,
		Type:    r.Kind,
		Quality: r.Quality,
		Outcome: &out,
	}
}

type QualitiesResponse struct {
	Video []quality.Option `json:"video,omitempty"`
	Audio []quality.Option `json:"audio,omitempty"`
}
