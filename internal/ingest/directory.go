package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

const defaultWorkers = 4

// Directory runs every matching file under root through runner with bounded concurrency.
// Per-file failures are reported in the results, not returned; the error is for walk
// failures and cancellation.
func Directory(ctx context.Context, runner Runner, root string, opts Options, logger *slog.Logger) ([]DocumentResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths, stats, err := scan(root, opts)
	if err != nil {
		return nil, stats, err
	}
	logger.Info("ingest.directory.scanned", "root", root, "scanned", stats.Scanned, "matched", stats.Matched)

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu      sync.Mutex
		results = make([]DocumentResult, 0, len(paths))
		g       errgroup.Group
	)
	g.SetLimit(workers)

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			dr := runOne(ctx, runner, path, opts, logger)

			mu.Lock()
			results = append(results, dr)
			switch dr.Result.Kind {
			case pipeline.KindPersisted:
				stats.Persisted++
			case pipeline.KindDuplicateInvoice:
				stats.Duplicates++
			default:
				stats.Failed++
			}
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress(dr)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("ingest.directory.done",
		"root", root,
		"persisted", stats.Persisted,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)
	return results, stats, ctx.Err()
}

func scan(root string, opts Options) ([]string, DirStats, error) {
	var (
		paths []string
		stats DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			stats.Failed++
			return nil
		}
		if path != root && opts.SkipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// never re-ingest our own output folders
			if path != root && (sameDir(path, opts.ErrorDir) || sameDir(path, opts.ProcessedDir)) {
				return filepath.SkipDir
			}
			return nil
		}
		stats.Scanned++
		if !AllowedExt(filepath.Ext(path), opts.AllowedExts) {
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}
	return paths, stats, nil
}

func runOne(ctx context.Context, runner Runner, path string, opts Options, logger *slog.Logger) DocumentResult {
	dr := DocumentResult{Path: path, Result: runner.Run(ctx, path)}
	if pipeline.IsCanceled(dr.Result.Err) {
		return dr
	}

	dir := opts.ErrorDir
	switch dr.Result.Kind {
	case pipeline.KindPersisted, pipeline.KindDuplicateInvoice:
		dir = opts.ProcessedDir
	}
	if dir == "" {
		return dr
	}
	tag := dr.Result.Hash
	if len(tag) > 12 {
		tag = tag[:12]
	}
	moved, err := moveInto(path, dir, tag)
	if err != nil {
		logger.Warn("ingest.move_failed", "path", path, "dir", dir, "error", err)
		return dr
	}
	dr.MovedTo = moved
	return dr
}

func sameDir(a, b string) bool {
	if b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
