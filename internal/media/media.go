package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind is the media kind a caller asks for.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ParseKind accepts the kind names used by the HTTP and CLI callers.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	}

	return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown media type %q", s)}
}

// BackendID names one extraction backend.
type BackendID string

const (
	BackendInProcess BackendID = "inproc"
	BackendYtDlp     BackendID = "ytdlp"
)

// Strategy is the fixed, ordered list of backends tried for a request.
type Strategy []BackendID

// DefaultStrategy tries the in-process library first and the external tool second.
var DefaultStrategy = Strategy{BackendInProcess, BackendYtDlp}

// ParseStrategy parses a comma separated list of backend ids.
func ParseStrategy(s string) (Strategy, error) {
	var out Strategy

	seen := make(map[BackendID]bool)

	for _, part := range strings.Split(s, ",") {
		id := BackendID(strings.ToLower(strings.TrimSpace(part)))
		if id == "" {
			continue
		}

		if id != BackendInProcess && id != BackendYtDlp {
			return nil, fmt.Errorf("unknown backend %q", id)
		}

		if seen[id] {
			return nil, fmt.Errorf("backend %q listed twice", id)
		}

		seen[id] = true

		out = append(out, id)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("strategy must name at least one backend")
	}

	return out, nil
}

func (s Strategy) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = string(id)
	}

	return strings.Join(parts, ",")
}

// Request is an immutable retrieval request.
type Request struct {
	URL      string
	Kind     Kind
	Quality  string
	DestDir  string
	Filename string // optional, without extension
	Force    bool   // bypass a recorded unavailable outcome for URL
}

// Validate checks the request before any backend is touched.
func (r Request) Validate() error {
	if _, err := RecognizeSource(r.URL); err != nil {
		return err
	}

	if r.Kind != KindVideo && r.Kind != KindAudio {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown media type %q", r.Kind)}
	}

	return checkWritableDir(r.DestDir)
}

func checkWritableDir(dir string) error {
	if dir == "" {
		return &ValidationError{Field: "dest_dir", Reason: "destination directory is required"}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return &ValidationError{Field: "dest_dir", Reason: "destination directory does not exist", Err: err}
	}

	if !info.IsDir() {
		return &ValidationError{Field: "dest_dir", Reason: "destination is not a directory"}
	}

	probe, err := os.CreateTemp(dir, ".mediafetch-probe-*")
	if err != nil {
		return &ValidationError{Field: "dest_dir", Reason: "destination directory is not writable", Err: err}
	}

	name := probe.Name()
	probe.Close()
	os.Remove(name)

	return nil
}

// OutputBase returns the path of the output file without extension, or ""
// when the caller left the name to the backend.
func (r Request) OutputBase() string {
	if r.Filename == "" {
		return ""
	}

	return filepath.Join(r.DestDir, SanitizeFilename(r.Filename))
}

// Failure describes why one attempt failed.
type Failure struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Kind.Label()
	}

	return f.Kind.Label() + ": " + f.Detail
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail builds a Failure whose detail is taken from err.
func Fail(kind ErrorKind, err error) *Failure {
	f := &Failure{Kind: kind, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}

	return f
}

// AttemptResult is what a backend hands back for one attempt. Failure is nil
// on success.
type AttemptResult struct {
	Backend  BackendID
	Artifact string
	Title    string
	Author   string
	Failure  *Failure
	Partials []string
}

// OK reports whether the attempt produced an artifact.
func (r AttemptResult) OK() bool {
	return r.Failure == nil
}

// AttemptError is the record of one failed attempt kept in an Outcome.
type AttemptError struct {
	Attempt int       `json:"attempt"`
	Backend BackendID `json:"backend"`
	Kind    ErrorKind `json:"kind"`
	Detail  string    `json:"detail"`
}

func (e AttemptError) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("attempt %d (%s): %s", e.Attempt, e.Backend, e.Kind.Label())
	}

	return fmt.Sprintf("attempt %d (%s): %s: %s", e.Attempt, e.Backend, e.Kind.Label(), e.Detail)
}

// Outcome is the final result of a request.
type Outcome struct {
	Success      bool           `json:"success"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	Title        string         `json:"title,omitempty"`
	Backend      BackendID      `json:"backend,omitempty"`
	Kind         ErrorKind      `json:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty"`
	Attempts     []AttemptError `json:"attempts,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Degraded     bool           `json:"degraded,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// JoinAttempts renders every failed attempt, in order, as one message.
func JoinAttempts(attempts []AttemptError) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = a.String()
	}

	return strings.Join(parts, "; ")
}
