package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/logctx"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// HandleEvents streams the events of one download over a websocket. The
// first message is the current snapshot; the stream ends after the outcome.
func (h *DownloadHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := logctx.LoggerFromContext(r.Context()).With("download_id", id)

	job, ok := h.jobs.Get(id)
	if !ok {
		writeError(w, r, downloader.ErrJobNotFound)

		return
	}

	if h.events == nil {
		http.Error(w, "event streaming is not enabled", http.StatusNotImplemented)

		return
	}

	// subscribe before reading the snapshot so nothing falls in between
	sub := h.events.SubscribeTo(id)
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade connection", "err", err)

		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client sends nothing; reading only detects a closed connection
	go func() {
		defer cancel()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if rec, ok := h.jobs.Snapshot(id); ok {
		first := events.Event{DownloadID: id, Type: events.TypeStatus, Record: &rec, At: rec.UpdatedAt}

		// the outcome event may have been published before we subscribed
		if rec.Status.Terminal() {
			select {
			case <-job.Done():
			case <-ctx.Done():
				return
			}
		}

		if out, done := job.Outcome(); done {
			first.Type = events.TypeOutcome
			first.Outcome = &out
		}

		if err := send(conn, first); err != nil || first.Type == events.TypeOutcome {
			closeStream(conn)

			return
		}
	}

	for {
		e, ok := sub.Next(ctx)
		if !ok {
			return
		}

		if err := send(conn, e); err != nil {
			logger.Debug("event stream closed", "err", err)

			return
		}

		if e.Type == events.TypeOutcome {
			closeStream(conn)

			return
		}
	}
}

func send(conn *websocket.Conn, e events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(e)
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "download finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
