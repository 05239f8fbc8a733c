package quality

import (
	"testing"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		kind   media.Kind
		intent string
		want   Selector
	}{
		{name: "video 720", kind: media.KindVideo, intent: "720", want: Selector{Kind: media.KindVideo, MaxHeight: 720, Container: "mp4"}},
		{name: "video 144", kind: media.KindVideo, intent: "144", want: Selector{Kind: media.KindVideo, MaxHeight: 144, Container: "mp4"}},
		{name: "video best", kind: media.KindVideo, intent: "best", want: Selector{Kind: media.KindVideo, Container: "mp4"}},
		{name: "video best mixed case", kind: media.KindVideo, intent: " Best ", want: Selector{Kind: media.KindVideo, Container: "mp4"}},
		{name: "audio 320", kind: media.KindAudio, intent: "320", want: Selector{Kind: media.KindAudio, AudioKbps: 320, Container: "mp3"}},
		{name: "audio 64", kind: media.KindAudio, intent: "64", want: Selector{Kind: media.KindAudio, AudioKbps: 64, Container: "mp3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.kind, tt.intent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_RejectsUnknownIntent(t *testing.T) {
	tests := []struct {
		name   string
		kind   media.Kind
		intent string
	}{
		{name: "video 999", kind: media.KindVideo, intent: "999"},
		{name: "video empty", kind: media.KindVideo, intent: ""},
		{name: "audio best is not an audio intent", kind: media.KindAudio, intent: "best"},
		{name: "audio 720", kind: media.KindAudio, intent: "720"},
		{name: "video 320", kind: media.KindVideo, intent: "320"},
		{name: "unknown kind", kind: "podcast", intent: "720"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.kind, tt.intent)

			var qerr *InvalidQualityError
			require.ErrorAs(t, err, &qerr)
			assert.Equal(t, media.ErrInvalidRequest, media.KindOf(err))
		})
	}
}

func TestOptions_EveryOptionResolves(t *testing.T) {
	for _, kind := range []media.Kind{media.KindVideo, media.KindAudio} {
		opts := Options(kind)
		require.NotEmpty(t, opts)

		for _, o := range opts {
			_, err := Resolve(kind, o.Value)
			assert.NoError(t, err, "%s %s", kind, o.Value)
		}
	}
}

func TestOptions_ReturnsCopy(t *testing.T) {
	opts := Options(media.KindVideo)
	opts[0].Value = "mutated"

	assert.Equal(t, Best, Options(media.KindVideo)[0].Value)
}

func TestDefault_Resolves(t *testing.T) {
	for _, kind := range []media.Kind{media.KindVideo, media.KindAudio} {
		_, err := Resolve(kind, Default(kind))
		assert.NoError(t, err, kind)
	}

	assert.Equal(t, "192", Default(media.KindAudio))
	assert.Equal(t, Best, Default(media.KindVideo))
}
