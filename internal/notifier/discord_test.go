package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, "hello", got["content"])
}

func TestDiscordNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 429")
}

func TestNewDiscordNotifier_Empty(t *testing.T) {
	assert.Nil(t, NewDiscordNotifier(""))

	err := (&DiscordNotifier{}).Notify(context.Background(), "x")
	assert.Error(t, err)
}

func TestMessages(t *testing.T) {
	out := media.Outcome{Success: true, Title: "Song", Backend: media.BackendYtDlp, Degraded: true}
	msg := FinishedMessage("https://youtu.be/abc", out)
	assert.Contains(t, msg, "Song")
	assert.Contains(t, msg, "ytdlp")
	assert.Contains(t, msg, "without conversion")

	out = media.Outcome{ArtifactPath: "/data/clip.mp4"}
	assert.Contains(t, FinishedMessage("u", out), "clip.mp4")

	failed := media.Outcome{Error: "attempt 1 (inproc): network error: reset"}
	assert.Contains(t, FailedMessage("u", failed), "network error")
}
