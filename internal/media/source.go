package media

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

const maxFilenameBytes = 200

// RecognizeSource checks that raw points at a single video on a supported
// host and returns its id.
func RecognizeSource(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Reason: "url is required"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "url cannot be parsed", Err: err}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: "url must use http or https"}
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, prefix)
	}

	var id string

	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "youtube-nocookie.com":
		id = youtubePathID(u)
	default:
		return "", &ValidationError{Field: "url", Reason: "unsupported host " + u.Hostname()}
	}

	if !videoIDPattern.MatchString(id) {
		return "", &ValidationError{Field: "url", Reason: "url does not name a video"}
	}

	return id, nil
}

func youtubePathID(u *url.URL) string {
	path := strings.TrimSuffix(u.Path, "/")
	if path == "/watch" {
		return u.Query().Get("v")
	}

	for _, prefix := range []string{"/embed/", "/shorts/", "/live/", "/v/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			return rest
		}
	}

	return ""
}

// SanitizeFilename makes s safe to use as a file name on every platform.
func SanitizeFilename(s string) string {
	var b strings.Builder

	for _, r := range s {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			continue
		}

		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), " .")

	if len(out) > maxFilenameBytes {
		cut := maxFilenameBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}

		out = strings.TrimRight(out[:cut], " .")
	}

	if out == "" {
		return "download"
	}

	return out
}
