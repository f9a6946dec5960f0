// Package async runs documents through the pipeline on a fixed pool of workers.
package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// ErrClosed is returned by Enqueue after Shutdown started.
var ErrClosed = errors.New("queue is shutting down")

// Job is one document to process.
type Job struct {
	Path        string
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, path string) pipeline.Result
}

// ResultHandler observes every finished job. It runs on the worker goroutine.
type ResultHandler func(job Job, res pipeline.Result)
