package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// convertHEICtoPNG converts a HEIC/HEIF photo to PNG so tesseract can read it.
// With a cacheDir and content hash the PNG is kept at {cacheDir}/{hashHex}.png and
// reused on reprocessing; cleanup is nil in that case. Otherwise the PNG lives in a
// temp dir that cleanup removes.
func convertHEICtoPNG(
	ctx context.Context,
	r Runner,
	logger *slog.Logger,
	converter string,
	in string,
	cacheDir string,
	hashHex string,
) (string, []string, func(), error) {
	// Reuse cached artifact if possible
	if cacheDir != "" && hashHex != "" {
		cached := filepath.Join(cacheDir, hashHex+".png")
		if st, err := os.Stat(cached); err == nil && !st.IsDir() {
			logger.Debug("using cached heic->png", "cache", cached)
			return cached, nil, nil, nil
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return "", nil, nil, err
		}
		// Fall through to produce tmp then persist to cache
	}

	tmpDir, err := os.MkdirTemp("", "inv-heic-*")
	if err != nil {
		return "", nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	switch converter {
	case "heif-convert":
		if _, errb, err2 := r.Run(ctx, "heif-convert", logger, in, out); err2 != nil {
			return "", []string{string(errb)}, cleanup, fmt.Errorf("heif-convert failed: %w", err2)
		}
	case "magick":
		if _, errb, err2 := r.Run(ctx, "magick", logger, in, out); err2 != nil {
			return "", []string{string(errb)}, cleanup, fmt.Errorf("magick convert failed: %w", err2)
		}
	case "sips":
		if _, errb, err2 := r.Run(ctx, "sips", logger, "-s", "format", "png", in, "--out", out); err2 != nil {
			return "", []string{string(errb)}, cleanup, fmt.Errorf("sips convert failed: %w", err2)
		}
	default:
		return "", nil, cleanup, fmt.Errorf("HEIC not supported: set ocr.Config.HeicConverter to one of: heif-convert | magick | sips")
	}

	if _, statErr := os.Stat(out); statErr != nil {
		return "", nil, cleanup, fmt.Errorf("HEIC conversion produced no output: %v", statErr)
	}

	// If we have cache info, persist the temp PNG into the cache and return the cached path.
	if cacheDir != "" && hashHex != "" {
		cached := filepath.Join(cacheDir, hashHex+".png")

		// try atomic rename; if it fails (e.g., EXDEV), copy then remove tmp
		if err := os.Rename(out, cached); err != nil {
			// if another process already wrote it, use existing and discard tmp
			if st, statErr := os.Stat(cached); statErr == nil && !st.IsDir() {
				cleanup()
				logger.Debug("cached heic->png already present", "cache", cached)
				return cached, nil, nil, nil
			}
			e := copyFile(out, cached)
			cleanup()
			if e != nil {
				return "", nil, nil, e
			}
		}

		logger.Debug("cached heic->png", "cache", cached)
		return cached, nil, nil, nil
	}

	return out, nil, cleanup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
