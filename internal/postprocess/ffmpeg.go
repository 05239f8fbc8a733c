package postprocess

import (
	"context"
	"fmt"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/tool"
)

const (
	DefaultFFmpegBinary  = "ffmpeg"
	DefaultFFprobeBinary = "ffprobe"
)

// FFmpeg is a Transcoder backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegBin    string
	ffprobeBin   string
	probeTimeout time.Duration
}

func NewFFmpeg(ffmpegBin, ffprobeBin string, probeTimeout time.Duration) *FFmpeg {
	if ffmpegBin == "" {
		ffmpegBin = DefaultFFmpegBinary
	}

	if ffprobeBin == "" {
		ffprobeBin = DefaultFFprobeBinary
	}

	if probeTimeout <= 0 {
		probeTimeout = tool.DefaultProbeTimeout
	}

	return &FFmpeg{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, probeTimeout: probeTimeout}
}

// Available checks that both binaries answer a version query.
func (f *FFmpeg) Available(ctx context.Context) error {
	if _, err := tool.Probe(ctx, f.ffmpegBin, "-version", f.probeTimeout); err != nil {
		return err
	}

	_, err := tool.Probe(ctx, f.ffprobeBin, "-version", f.probeTimeout)

	return err
}

func (f *FFmpeg) config() *ffmpeg.Config {
	return &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   f.ffmpegBin,
		FfprobeBinPath:  f.ffprobeBin,
	}
}

// Transcode runs ffmpeg and then reads the output back with ffprobe. The
// progress channel closes once ffmpeg exits.
func (f *FFmpeg) Transcode(ctx context.Context, job Job, onProgress func(float64)) error {
	progress, err := ffmpeg.
		New(f.config()).
		Input(job.Input).
		Output(job.Output).
		WithContext(&ctx).
		Start(Options(job.Selector))
	if err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	for p := range progress {
		if onProgress != nil {
			onProgress(p.GetProgress())
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := ffmpeg.New(f.config()).Input(job.Output).GetMetadata(); err != nil {
		return fmt.Errorf("failed to read converted file metadata using ffprobe: %w", err)
	}

	return nil
}

// Options returns the ffmpeg options producing sel's container.
func Options(sel quality.Selector) *ffmpeg.Options {
	format := sel.Container
	overwrite := true

	opts := &ffmpeg.Options{
		OutputFormat: &format,
		Overwrite:    &overwrite,
	}

	if sel.Kind == media.KindAudio {
		skipVideo := true
		codec := "libmp3lame"
		bitrate := fmt.Sprintf("%dk", sel.AudioKbps)

		opts.SkipVideo = &skipVideo
		opts.AudioCodec = &codec
		opts.AudioBitrate = &bitrate

		return opts
	}

	videoCodec := "libx264"
	audioCodec := "aac"

	opts.VideoCodec = &videoCodec
	opts.AudioCodec = &audioCodec

	return opts
}
