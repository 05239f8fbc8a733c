package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// LineKind tells what a line of tool output means.
type LineKind int

const (
	LineOther LineKind = iota
	LineProgress
	LineDestination
	LineAlreadyDownloaded
	LineError
)

// Line is a classified line of tool output.
type Line struct {
	Kind             LineKind
	Text             string
	Percent          float64
	ETASeconds       *int64
	SpeedBytesPerSec *float64
	TotalBytes       *int64
	Path             string // destination and already-downloaded lines
	Message          string // error lines
}

var (
	percentRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	etaRe         = regexp.MustCompile(`ETA\s+(\S+)`)
	speedRe       = regexp.MustCompile(`at\s+~?\s*(\d+(?:\.\d+)?\s*[KMGTP]?i?B)/s`)
	totalRe       = regexp.MustCompile(`of\s+~?\s*(\d+(?:\.\d+)?\s*[KMGTP]?i?B)`)
	destinationRe = regexp.MustCompile(`Destination: (.+)$`)
	mergerRe      = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	alreadyRe     = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
	errorRe       = regexp.MustCompile(`^ERROR: (.+)$`)
)

// Classify interprets one line printed by yt-dlp.
func Classify(raw string) Line {
	text := strings.TrimSpace(raw)
	l := Line{Kind: LineOther, Text: text}

	switch {
	case strings.Contains(text, "%") && strings.Contains(text, "ETA"):
		m := percentRe.FindStringSubmatch(text)
		if m == nil {
			return l
		}

		l.Kind = LineProgress
		l.Percent, _ = strconv.ParseFloat(m[1], 64)

		if m := etaRe.FindStringSubmatch(text); m != nil {
			if secs, ok := parseClock(m[1]); ok {
				l.ETASeconds = &secs
			}
		}

		if m := speedRe.FindStringSubmatch(text); m != nil {
			if v, err := humanize.ParseBytes(m[1]); err == nil {
				speed := float64(v)
				l.SpeedBytesPerSec = &speed
			}
		}

		if m := totalRe.FindStringSubmatch(text); m != nil {
			if v, err := humanize.ParseBytes(m[1]); err == nil {
				total := int64(v)
				l.TotalBytes = &total
			}
		}
	case mergerRe.MatchString(text):
		l.Kind = LineDestination
		l.Path = mergerRe.FindStringSubmatch(text)[1]
	case destinationRe.MatchString(text):
		l.Kind = LineDestination
		l.Path = strings.TrimSpace(destinationRe.FindStringSubmatch(text)[1])
	case alreadyRe.MatchString(text):
		l.Kind = LineAlreadyDownloaded
		l.Path = alreadyRe.FindStringSubmatch(text)[1]
	case errorRe.MatchString(text):
		l.Kind = LineError
		l.Message = errorRe.FindStringSubmatch(text)[1]
	}

	return l
}

// parseClock converts "SS", "MM:SS" or "HH:MM:SS" into seconds.
func parseClock(s string) (int64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	var secs int64

	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}

		secs = secs*60 + n
	}

	return secs, true
}

var unavailableMarkers = []string{
	"private video",
	"video unavailable",
	"this video is unavailable",
	"this video has been removed",
	"account associated with this video has been terminated",
	"not available in your country",
	"sign in to confirm your age",
	"members-only",
	"this live event will begin",
}

// isUnavailable reports whether an error message says the resource cannot be
// retrieved by any backend.
func isUnavailable(msg string) bool {
	msg = strings.ToLower(msg)

	for _, m := range unavailableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
