// Package ingest discovers documents on disk and hands them to the pipeline.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, path string) pipeline.Result
}

// DocumentResult is the per-file outcome of a directory run.
type DocumentResult struct {
	Path    string
	Result  pipeline.Result
	MovedTo string // empty when the file stayed in place
}

// DirStats summarizes a directory run.
type DirStats struct {
	Scanned    uint32
	Matched    uint32
	Persisted  uint32
	Duplicates uint32
	Failed     uint32
}

type Options struct {
	Workers    int
	SkipHidden bool
	// AllowedExts is lowercased without '.'; nil means constants.AllowedExtensions.
	AllowedExts map[string]struct{}
	// ErrorDir receives files that failed; ProcessedDir receives persisted and duplicate ones.
	// Empty leaves files in place.
	ErrorDir     string
	ProcessedDir string
	// Progress is called once per finished file, from worker goroutines.
	Progress func(DocumentResult)
}
