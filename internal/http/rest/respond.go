package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/storage"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// writeError maps err onto a status code and a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := media.KindOf(err)

	var verrs validator.ValidationErrors

	switch {
	case errors.As(err, &verrs):
		status = http.StatusBadRequest
		kind = media.ErrInvalidRequest
	case errors.Is(err, downloader.ErrBusy):
		status = http.StatusConflict
		kind = ""
	case errors.Is(err, downloader.ErrClosed):
		status = http.StatusServiceUnavailable
		kind = ""
	case errors.Is(err, downloader.ErrJobNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		kind = ""
	default:
		status = kindStatus(kind)
	}

	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).Error("request failed", "err", err)
	}

	writeJSON(w, r, status, ErrorResponse{Error: err.Error(), ErrorKind: kind})
}

func kindStatus(kind media.ErrorKind) int {
	switch kind {
	case media.ErrInvalidRequest:
		return http.StatusBadRequest
	case media.ErrResourceUnavailable:
		return http.StatusUnprocessableEntity
	case media.ErrToolNotFound:
		return http.StatusServiceUnavailable
	case media.ErrCancelled:
		return http.StatusConflict
	case media.ErrNetwork, media.ErrParse, media.ErrExternalTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
