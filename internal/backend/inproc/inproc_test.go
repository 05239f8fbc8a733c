package inproc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	video     *youtube.Video
	videoErr  error
	body      string
	size      int64
	streamErr error
	readErr   error
	selected  *youtube.Format
}

func (f *fakeClient) GetVideoContext(ctx context.Context, url string) (*youtube.Video, error) {
	if f.videoErr != nil {
		return nil, f.videoErr
	}

	return f.video, nil
}

func (f *fakeClient) GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	f.selected = format

	if f.streamErr != nil {
		return nil, 0, f.streamErr
	}

	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(strings.NewReader(f.body), &failingReader{err: f.readErr})
	}

	size := f.size
	if size == 0 {
		size = int64(len(f.body))
	}

	return io.NopCloser(r), size, nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func muxed(itag, height, bitrate int) youtube.Format {
	return youtube.Format{ItagNo: itag, MimeType: `video/mp4; codecs="avc1, mp4a"`, Height: height, AudioChannels: 2, Bitrate: bitrate}
}

func videoOnly(itag, height, bitrate int) youtube.Format {
	return youtube.Format{ItagNo: itag, MimeType: `video/webm; codecs="vp9"`, Height: height, Bitrate: bitrate}
}

func audioOnly(itag, bitrate int, mimeType string) youtube.Format {
	return youtube.Format{ItagNo: itag, MimeType: mimeType, AudioChannels: 2, Bitrate: bitrate}
}

func TestSelectFormat(t *testing.T) {
	formats := youtube.FormatList{
		muxed(18, 360, 500_000),
		muxed(22, 720, 1_500_000),
		videoOnly(137, 1080, 4_000_000),
		videoOnly(136, 720, 2_000_000),
		audioOnly(140, 128_000, `audio/mp4; codecs="mp4a.40.2"`),
		audioOnly(251, 160_000, `audio/webm; codecs="opus"`),
		audioOnly(250, 64_000, `audio/webm; codecs="opus"`),
	}

	tests := []struct {
		name     string
		formats  youtube.FormatList
		sel      quality.Selector
		wantItag int
	}{
		{name: "muxed at exact height", formats: formats, sel: quality.Selector{Kind: media.KindVideo, MaxHeight: 720}, wantItag: 22},
		{name: "muxed at nearest lower height", formats: formats, sel: quality.Selector{Kind: media.KindVideo, MaxHeight: 480}, wantItag: 18},
		{name: "any muxed when all are above", formats: formats, sel: quality.Selector{Kind: media.KindVideo, MaxHeight: 144}, wantItag: 18},
		{name: "best picks highest muxed", formats: formats, sel: quality.Selector{Kind: media.KindVideo}, wantItag: 22},
		{
			name:     "video-only at target without muxed",
			formats:  youtube.FormatList{videoOnly(137, 1080, 4_000_000), videoOnly(136, 720, 2_000_000), audioOnly(140, 128_000, "audio/mp4")},
			sel:      quality.Selector{Kind: media.KindVideo, MaxHeight: 720},
			wantItag: 136,
		},
		{
			name:     "any stream as last resort",
			formats:  youtube.FormatList{videoOnly(137, 1080, 4_000_000), audioOnly(140, 128_000, "audio/mp4")},
			sel:      quality.Selector{Kind: media.KindVideo, MaxHeight: 720},
			wantItag: 137,
		},
		{name: "audio at or below target", formats: formats, sel: quality.Selector{Kind: media.KindAudio, AudioKbps: 128}, wantItag: 140},
		{name: "audio highest under generous target", formats: formats, sel: quality.Selector{Kind: media.KindAudio, AudioKbps: 320}, wantItag: 251},
		{name: "audio above every stream falls back to highest", formats: formats, sel: quality.Selector{Kind: media.KindAudio, AudioKbps: 32}, wantItag: 251},
		{
			name:     "audio from muxed when no audio-only",
			formats:  youtube.FormatList{muxed(22, 720, 1_500_000), muxed(18, 360, 500_000)},
			sel:      quality.Selector{Kind: media.KindAudio, AudioKbps: 128},
			wantItag: 18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectFormat(tt.formats, tt.sel)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantItag, got.ItagNo)
		})
	}

	assert.Nil(t, selectFormat(nil, quality.Selector{Kind: media.KindVideo}))
}

func TestSelectFormat_PrefersMP4OnEqualBitrate(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 43, MimeType: "video/webm", Height: 360, AudioChannels: 2, Bitrate: 500},
		{ItagNo: 18, MimeType: "video/mp4", Height: 360, AudioChannels: 2, Bitrate: 500},
	}

	got := selectFormat(formats, quality.Selector{Kind: media.KindVideo, MaxHeight: 360})
	require.NotNil(t, got)
	assert.Equal(t, 18, got.ItagNo)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "mp4", extension(`video/mp4; codecs="avc1.42001E, mp4a.40.2"`))
	assert.Equal(t, "m4a", extension(`audio/mp4; codecs="mp4a.40.2"`))
	assert.Equal(t, "webm", extension(`audio/webm; codecs="opus"`))
	assert.Equal(t, "3gp", extension("video/3gpp"))
	assert.Equal(t, "ogg", extension("audio/ogg"))
	assert.Equal(t, "bin", extension(""))
}

func newRequest(t *testing.T) media.Request {
	t.Helper()

	return media.Request{URL: "https://youtu.be/dQw4w9WgXcQ", Kind: media.KindVideo, Quality: "720", DestDir: t.TempDir()}
}

func TestAttempt_Success(t *testing.T) {
	client := &fakeClient{
		video: &youtube.Video{ID: "dQw4w9WgXcQ", Title: "Never: Gonna/Give", Author: "Rick", Formats: youtube.FormatList{muxed(22, 720, 1)}},
		body:  strings.Repeat("a", 1024),
	}
	req := newRequest(t)
	norm := progress.NewNormalizer(nil, nil)
	norm.BeginAttempt(1, "inproc")

	res := New(client).Attempt(context.Background(), req, quality.Selector{Kind: media.KindVideo, MaxHeight: 720}, norm)

	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, media.BackendInProcess, res.Backend)
	assert.Equal(t, filepath.Join(req.DestDir, "Never GonnaGive.mp4"), res.Artifact)
	assert.Equal(t, "Never: Gonna/Give", res.Title)
	assert.Equal(t, "Rick", res.Author)

	data, err := os.ReadFile(res.Artifact)
	require.NoError(t, err)
	assert.Len(t, data, 1024)

	_, err = os.Stat(res.Artifact + ".part")
	assert.True(t, os.IsNotExist(err))

	snap := norm.Snapshot()
	assert.Equal(t, 100.0, snap.Percentage)
	assert.Equal(t, "Never GonnaGive.mp4", snap.Filename)
}

func TestAttempt_UsesCallerFilename(t *testing.T) {
	client := &fakeClient{
		video: &youtube.Video{Title: "Ignored", Formats: youtube.FormatList{audioOnly(140, 128_000, "audio/mp4")}},
		body:  "abc",
	}
	req := newRequest(t)
	req.Kind = media.KindAudio
	req.Filename = "my song"

	res := New(client).Attempt(context.Background(), req, quality.Selector{Kind: media.KindAudio, AudioKbps: 128}, progress.NewNormalizer(nil, nil))

	require.True(t, res.OK())
	assert.Equal(t, filepath.Join(req.DestDir, "my song.m4a"), res.Artifact)
}

func TestAttempt_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		want   media.ErrorKind
	}{
		{name: "private", client: &fakeClient{videoErr: youtube.ErrVideoPrivate}, want: media.ErrResourceUnavailable},
		{name: "login required", client: &fakeClient{videoErr: youtube.ErrLoginRequired}, want: media.ErrResourceUnavailable},
		{name: "playability", client: &fakeClient{videoErr: &youtube.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "Video unavailable"}}, want: media.ErrResourceUnavailable},
		{name: "invalid id", client: &fakeClient{videoErr: youtube.ErrInvalidCharactersInVideoID}, want: media.ErrInvalidRequest},
		{name: "http status", client: &fakeClient{videoErr: youtube.ErrUnexpectedStatusCode(503)}, want: media.ErrNetwork},
		{name: "decode failure", client: &fakeClient{videoErr: errors.New("unable to parse player response")}, want: media.ErrParse},
		{name: "no streams", client: &fakeClient{video: &youtube.Video{Title: "x"}}, want: media.ErrParse},
		{name: "cancelled", client: &fakeClient{videoErr: context.Canceled}, want: media.ErrCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.client).Attempt(context.Background(), newRequest(t), quality.Selector{Kind: media.KindVideo, MaxHeight: 720}, progress.NewNormalizer(nil, nil))

			require.False(t, res.OK())
			assert.Equal(t, tt.want, res.Failure.Kind)
			assert.Empty(t, res.Partials)
		})
	}
}

func TestAttempt_InterruptedStreamReportsPartial(t *testing.T) {
	client := &fakeClient{
		video:   &youtube.Video{Title: "clip", Formats: youtube.FormatList{muxed(18, 360, 1)}},
		body:    "half",
		size:    100,
		readErr: io.ErrUnexpectedEOF,
	}
	req := newRequest(t)

	res := New(client).Attempt(context.Background(), req, quality.Selector{Kind: media.KindVideo, MaxHeight: 360}, progress.NewNormalizer(nil, nil))

	require.False(t, res.OK())
	assert.Equal(t, media.ErrNetwork, res.Failure.Kind)
	require.Len(t, res.Partials, 1)
	assert.Equal(t, filepath.Join(req.DestDir, "clip.mp4.part"), res.Partials[0])
	assert.FileExists(t, res.Partials[0])
}

func TestAttempt_ShortStreamIsNetworkError(t *testing.T) {
	client := &fakeClient{
		video: &youtube.Video{Title: "clip", Formats: youtube.FormatList{muxed(18, 360, 1)}},
		body:  "only a few bytes",
		size:  1 << 20,
	}

	res := New(client).Attempt(context.Background(), newRequest(t), quality.Selector{Kind: media.KindVideo, MaxHeight: 360}, progress.NewNormalizer(nil, nil))

	require.False(t, res.OK())
	assert.Equal(t, media.ErrNetwork, res.Failure.Kind)
	assert.Len(t, res.Partials, 1)
}

func TestAttempt_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{
		video: &youtube.Video{Title: "clip", Formats: youtube.FormatList{muxed(18, 360, 1)}},
		body:  strings.Repeat("x", 4096),
	}

	res := New(client).Attempt(ctx, newRequest(t), quality.Selector{Kind: media.KindVideo, MaxHeight: 360}, progress.NewNormalizer(nil, nil))

	require.False(t, res.OK())
	assert.Equal(t, media.ErrCancelled, res.Failure.Kind)
}

func TestInfo(t *testing.T) {
	client := &fakeClient{video: &youtube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Song",
		Author:   "Artist",
		Duration: 3*time.Minute + 33*time.Second,
		Views:    42,
		Formats:  youtube.FormatList{muxed(18, 360, 1), muxed(22, 720, 2)},
		Thumbnails: youtube.Thumbnails{
			{URL: "small.jpg"},
			{URL: "large.jpg"},
		},
	}}

	info, err := New(client).Info(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, "Artist", info.Author)
	assert.Equal(t, int64(213), info.Duration)
	assert.Equal(t, 42, info.Views)
	assert.Equal(t, 2, info.Streams)
	assert.Equal(t, "large.jpg", info.Thumbnail)

	_, err = New(&fakeClient{videoErr: youtube.ErrVideoPrivate}).Info(context.Background(), "x")
	assert.Equal(t, media.ErrResourceUnavailable, media.KindOf(err))
}
