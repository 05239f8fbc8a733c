package inproc

import (
	"mime"
	"sort"
	"strings"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/kkdai/youtube/v2"
)

func isMuxed(f *youtube.Format) bool {
	return f.AudioChannels > 0 && f.Height > 0
}

func isVideoOnly(f *youtube.Format) bool {
	return f.AudioChannels == 0 && f.Height > 0
}

func isAudioOnly(f *youtube.Format) bool {
	return f.AudioChannels > 0 && f.Height == 0
}

func bitrate(f *youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}

	return f.Bitrate
}

func isMP4(f *youtube.Format) bool {
	return strings.Contains(f.MimeType, "mp4")
}

// better orders two candidates of equal rank: higher bitrate first, then mp4.
func better(a, b *youtube.Format) bool {
	if bitrate(a) != bitrate(b) {
		return bitrate(a) > bitrate(b)
	}

	return isMP4(a) && !isMP4(b)
}

func filter(formats youtube.FormatList, keep func(*youtube.Format) bool) []*youtube.Format {
	var out []*youtube.Format

	for i := range formats {
		if keep(&formats[i]) {
			out = append(out, &formats[i])
		}
	}

	return out
}

func where(candidates []*youtube.Format, keep func(*youtube.Format) bool) []*youtube.Format {
	var out []*youtube.Format

	for _, f := range candidates {
		if keep(f) {
			out = append(out, f)
		}
	}

	return out
}

// pick returns the first candidate after sorting with less, or nil.
func pick(candidates []*youtube.Format, less func(a, b *youtube.Format) bool) *youtube.Format {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	return candidates[0]
}

func highest(a, b *youtube.Format) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}

	return better(a, b)
}

func lowest(a, b *youtube.Format) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}

	return better(a, b)
}

// selectFormat ranks the stream descriptors against the selector. It returns
// nil when there is nothing at all to download.
func selectFormat(formats youtube.FormatList, sel quality.Selector) *youtube.Format {
	if sel.Kind == media.KindAudio {
		return selectAudio(formats, sel)
	}

	muxed := filter(formats, isMuxed)

	if sel.MaxHeight == 0 {
		if f := pick(muxed, highest); f != nil {
			return f
		}

		if f := pick(filter(formats, isVideoOnly), highest); f != nil {
			return f
		}

		return pick(filter(formats, func(*youtube.Format) bool { return true }), better)
	}

	target := sel.MaxHeight

	// muxed at the exact target height
	if f := pick(where(muxed, func(f *youtube.Format) bool { return f.Height == target }), better); f != nil {
		return f
	}

	// muxed at the nearest lower height
	if f := pick(where(muxed, func(f *youtube.Format) bool { return f.Height < target }), highest); f != nil {
		return f
	}

	// any muxed stream, nearest above the target
	if f := pick(muxed, lowest); f != nil {
		return f
	}

	// video-only at the target height
	if f := pick(filter(formats, func(f *youtube.Format) bool { return isVideoOnly(f) && f.Height == target }), better); f != nil {
		return f
	}

	return pick(filter(formats, func(*youtube.Format) bool { return true }), better)
}

func selectAudio(formats youtube.FormatList, sel quality.Selector) *youtube.Format {
	audio := filter(formats, isAudioOnly)
	limit := sel.AudioKbps * 1000

	if f := pick(where(audio, func(f *youtube.Format) bool { return bitrate(f) <= limit }), better); f != nil {
		return f
	}

	if f := pick(audio, better); f != nil {
		return f
	}

	if f := pick(filter(formats, isMuxed), lowest); f != nil {
		return f
	}

	return pick(filter(formats, func(*youtube.Format) bool { return true }), better)
}

// extension derives a file extension from a stream mime type.
func extension(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}

	switch mt {
	case "video/mp4":
		return "mp4"
	case "audio/mp4":
		return "m4a"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/3gpp":
		return "3gp"
	}

	if _, sub, ok := strings.Cut(mt, "/"); ok && sub != "" {
		return sub
	}

	return "bin"
}
