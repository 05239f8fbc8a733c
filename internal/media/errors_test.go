package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "url", Reason: "url is required"}

	assert.Equal(t, "invalid request: url: url is required", err.Error())
}

func TestToolError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ToolError
		want string
	}{
		{
			name: "without cause",
			err:  &ToolError{Tool: "yt-dlp"},
			want: "yt-dlp is not available",
		},
		{
			name: "with cause",
			err:  &ToolError{Tool: "ffmpeg", Err: errors.New("executable file not found in $PATH")},
			want: "ffmpeg is not available: executable file not found in $PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestFailure_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	f := Fail(ErrNetwork, cause)

	assert.Equal(t, "network error: connection reset", f.Error())
	assert.ErrorIs(t, f, cause)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: &ValidationError{Field: "url", Reason: "bad"}, want: ErrInvalidRequest},
		{name: "wrapped validation", err: fmt.Errorf("resolve: %w", &ValidationError{Field: "url"}), want: ErrInvalidRequest},
		{name: "tool", err: &ToolError{Tool: "yt-dlp"}, want: ErrToolNotFound},
		{name: "unavailable", err: &UnavailableError{URL: "u", Reason: "private"}, want: ErrResourceUnavailable},
		{name: "failure", err: Fail(ErrParse, errors.New("no formats")), want: ErrParse},
		{name: "cancelled", err: fmt.Errorf("copy: %w", context.Canceled), want: ErrCancelled},
		{name: "plain", err: errors.New("boom"), want: ErrUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_Recoverable(t *testing.T) {
	recoverable := []ErrorKind{ErrNetwork, ErrParse, ErrExternalTool, ErrUnexpected, ErrToolNotFound}
	terminal := []ErrorKind{ErrInvalidRequest, ErrResourceUnavailable, ErrCancelled}

	for _, k := range recoverable {
		assert.True(t, k.Recoverable(), "%s should be recoverable", k)
	}

	for _, k := range terminal {
		assert.False(t, k.Recoverable(), "%s should be terminal", k)
	}
}

func TestErrorKind_Class(t *testing.T) {
	assert.Equal(t, "transient_fetch_error", ErrNetwork.Class())
	assert.Equal(t, "transient_fetch_error", ErrExternalTool.Class())
	assert.Equal(t, "resource_unavailable", ErrResourceUnavailable.Class())
	assert.Equal(t, "tool_not_found", ErrToolNotFound.Class())
}

func TestJoinAttempts(t *testing.T) {
	attempts := []AttemptError{
		{Attempt: 1, Backend: BackendInProcess, Kind: ErrNetwork, Detail: "timeout"},
		{Attempt: 2, Backend: BackendYtDlp, Kind: ErrToolNotFound},
	}

	got := JoinAttempts(attempts)

	require.Equal(t, "attempt 1 (inproc): network error: timeout; attempt 2 (ytdlp): tool not found", got)
}
