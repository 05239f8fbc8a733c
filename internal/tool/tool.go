// Package tool checks that external binaries are installed and runnable.
package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
)

const DefaultProbeTimeout = 5 * time.Second

// Probe runs bin with versionArg and returns the first line it printed.
// A missing, hanging or failing binary yields a *media.ToolError.
func Probe(ctx context.Context, bin, versionArg string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return "", &media.ToolError{Tool: bin, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, versionArg).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("version check timed out after %s: %w", timeout, ctx.Err())
		}

		return "", &media.ToolError{Tool: bin, Err: err}
	}

	version := firstLine(out)

	logctx.LoggerFromContext(ctx).Debug("external tool available", "tool", bin, "path", path, "version", version)

	return version, nil
}

func firstLine(b []byte) string {
	s := bufio.NewScanner(bytes.NewReader(b))
	if s.Scan() {
		return strings.TrimSpace(s.Text())
	}

	return ""
}
