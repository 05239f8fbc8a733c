package tool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))

	return path
}

func TestProbe_ReturnsVersion(t *testing.T) {
	bin := writeScript(t, "echo '2024.03.10'\necho 'extra line'\n")

	version, err := Probe(context.Background(), bin, "--version", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2024.03.10", version)
}

func TestProbe_MissingBinary(t *testing.T) {
	_, err := Probe(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), "--version", time.Second)

	var terr *media.ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, media.ErrToolNotFound, media.KindOf(err))
}

func TestProbe_FailingBinary(t *testing.T) {
	bin := writeScript(t, "exit 3\n")

	_, err := Probe(context.Background(), bin, "--version", time.Second)
	assert.Equal(t, media.ErrToolNotFound, media.KindOf(err))
}

func TestProbe_Timeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")

	start := time.Now()
	_, err := Probe(context.Background(), bin, "--version", 100*time.Millisecond)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, err.Error(), "timed out")
}
