// Package quality maps a caller's quality intent onto a backend-agnostic
// stream selector.
package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/mediafetch/internal/media"
)

const (
	ContainerVideo = "mp4"
	ContainerAudio = "mp3"

	// Best is the video intent meaning "highest available".
	Best = "best"
)

// Selector describes the stream a backend should pick.
type Selector struct {
	Kind      media.Kind
	MaxHeight int // 0 means no limit
	AudioKbps int
	Container string
}

// Option is one entry of the quality enumeration.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var videoOptions = []Option{
	{Value: Best, Label: "Best available"},
	{Value: "1080", Label: "1080p (Full HD)"},
	{Value: "720", Label: "720p (HD)"},
	{Value: "480", Label: "480p"},
	{Value: "360", Label: "360p"},
	{Value: "240", Label: "240p"},
	{Value: "144", Label: "144p"},
}

var audioOptions = []Option{
	{Value: "320", Label: "320 kbps (Best)"},
	{Value: "256", Label: "256 kbps"},
	{Value: "192", Label: "192 kbps"},
	{Value: "128", Label: "128 kbps"},
	{Value: "64", Label: "64 kbps"},
}

// Options lists the accepted intents for kind, best first.
func Options(kind media.Kind) []Option {
	src := videoOptions
	if kind == media.KindAudio {
		src = audioOptions
	}

	out := make([]Option, len(src))
	copy(out, src)

	return out
}

// Default is the intent callers use when the user did not pick one.
func Default(kind media.Kind) string {
	if kind == media.KindAudio {
		return "192"
	}

	return Best
}

// InvalidQualityError is returned for an intent outside the enumeration of
// its kind.
type InvalidQualityError struct {
	Kind    media.Kind
	Quality string
}

func (e *InvalidQualityError) Error() string {
	return fmt.Sprintf("invalid quality %q for %s", e.Quality, e.Kind)
}

func (e *InvalidQualityError) ErrorKind() media.ErrorKind {
	return media.ErrInvalidRequest
}

// Resolve turns an intent into a Selector. Unknown intents are rejected, never
// defaulted.
func Resolve(kind media.Kind, intent string) (Selector, error) {
	intent = strings.ToLower(strings.TrimSpace(intent))

	switch kind {
	case media.KindVideo:
		if !known(videoOptions, intent) {
			return Selector{}, &InvalidQualityError{Kind: kind, Quality: intent}
		}

		sel := Selector{Kind: kind, Container: ContainerVideo}
		if intent != Best {
			sel.MaxHeight, _ = strconv.Atoi(intent)
		}

		return sel, nil
	case media.KindAudio:
		if !known(audioOptions, intent) {
			return Selector{}, &InvalidQualityError{Kind: kind, Quality: intent}
		}

		kbps, _ := strconv.Atoi(intent)

		return Selector{Kind: kind, AudioKbps: kbps, Container: ContainerAudio}, nil
	}

	return Selector{}, &InvalidQualityError{Kind: kind, Quality: intent}
}

func known(opts []Option, v string) bool {
	for _, o := range opts {
		if o.Value == v {
			return true
		}
	}

	return false
}

func (s Selector) String() string {
	if s.Kind == media.KindAudio {
		return fmt.Sprintf("audio %dkbps %s", s.AudioKbps, s.Container)
	}

	if s.MaxHeight == 0 {
		return "video best " + s.Container
	}

	return fmt.Sprintf("video %dp %s", s.MaxHeight, s.Container)
}
