// Package postprocess brings a retrieved artifact into the requested container.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/quality"
)

// Job describes one conversion.
type Job struct {
	Input    string
	Output   string
	Selector quality.Selector
}

// Transcoder converts media files between containers.
type Transcoder interface {
	// Available reports whether the transcoder can run at all.
	Available(ctx context.Context) error
	Transcode(ctx context.Context, job Job, onProgress func(percent float64)) error
}

// Tagger writes descriptive metadata into a finished file.
type Tagger interface {
	Tag(path, title, author string) error
}

// Artifact is what a successful attempt produced.
type Artifact struct {
	Path   string
	Title  string
	Author string
}

// Conversion tells what happened to the artifact.
type Conversion string

const (
	ConversionNotNeeded   Conversion = "not_needed"
	ConversionDone        Conversion = "converted"
	ConversionUnavailable Conversion = "unavailable"
	ConversionFailed      Conversion = "failed"
)

// Result is the artifact after post-processing. Path always points at a file
// that exists.
type Result struct {
	Path       string
	Conversion Conversion
	Degraded   bool
	Warnings   []string
}

// Converted reports whether the artifact was rewritten into a new container.
func (r Result) Converted() bool {
	return r.Conversion == ConversionDone
}

type Coordinator struct {
	transcoder Transcoder
	tagger     Tagger
}

// NewCoordinator returns a coordinator. A nil transcoder is treated as
// unavailable and a nil tagger disables tagging.
func NewCoordinator(t Transcoder, tagger Tagger) *Coordinator {
	return &Coordinator{transcoder: t, tagger: tagger}
}

// NeedsConversion reports whether path is not already in the container sel asks for.
func NeedsConversion(path string, sel quality.Selector) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")

	return !strings.EqualFold(ext, sel.Container)
}

// Process converts art when needed. Conversion problems never fail the
// request: the original artifact is kept and a warning is added.
func (c *Coordinator) Process(ctx context.Context, art Artifact, sel quality.Selector, onProgress func(percent float64)) Result {
	logger := logctx.LoggerFromContext(ctx)
	res := Result{Path: art.Path, Conversion: ConversionNotNeeded}

	if NeedsConversion(art.Path, sel) {
		c.convert(ctx, art, sel, onProgress, &res)
	}

	if c.tagger != nil && strings.EqualFold(filepath.Ext(res.Path), ".mp3") {
		if err := c.tagger.Tag(res.Path, art.Title, art.Author); err != nil {
			logger.Warn("failed to tag file", "path", res.Path, "err", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("tagging failed: %v", err))
		}
	}

	return res
}

func (c *Coordinator) convert(ctx context.Context, art Artifact, sel quality.Selector, onProgress func(float64), res *Result) {
	logger := logctx.LoggerFromContext(ctx)

	if c.transcoder == nil {
		c.degrade(res, sel, errors.New("no transcoder configured"))

		return
	}

	if err := c.transcoder.Available(ctx); err != nil {
		logger.Warn("transcoder unavailable, keeping original file", "path", art.Path, "err", err)
		c.degrade(res, sel, err)

		return
	}

	target := strings.TrimSuffix(art.Path, filepath.Ext(art.Path)) + "." + sel.Container
	partial := target + ".part"

	logger.Info("converting file", "from", art.Path, "to", target)

	err := c.transcoder.Transcode(ctx, Job{Input: art.Path, Output: partial, Selector: sel}, onProgress)
	if err == nil {
		err = checkOutput(partial)
	}

	if err == nil {
		err = os.Rename(partial, target)
	}

	if err != nil {
		os.Remove(partial)

		logger.Warn("conversion failed, keeping original file", "path", art.Path, "err", err)

		res.Conversion = ConversionFailed
		res.Warnings = append(res.Warnings, fmt.Sprintf("conversion to %s failed: %v", sel.Container, err))

		return
	}

	if err := os.Remove(art.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove intermediate file", "path", art.Path, "err", err)
	}

	res.Path = target
	res.Conversion = ConversionDone
}

func (c *Coordinator) degrade(res *Result, sel quality.Selector, err error) {
	res.Conversion = ConversionUnavailable
	res.Degraded = true
	res.Warnings = append(res.Warnings, fmt.Sprintf("conversion to %s skipped: %v", sel.Container, err))
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("converted file is missing: %w", err)
	}

	if info.Size() == 0 {
		return errors.New("converted file is empty")
	}

	return nil
}
