package capture

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifacts stores per-frame PNG copies under one directory. They are
// non-authoritative and may be deleted at any time.
type Artifacts struct {
	dir  string
	keep bool
}

// NewArtifacts creates the directory if needed. With keep set, Release leaves
// files in place for later inspection.
func NewArtifacts(dir string, keep bool) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Artifacts{dir: dir, keep: keep}, nil
}

// Dir is the artifact directory.
func (a *Artifacts) Dir() string { return a.dir }

// Save writes img as ocr_<timestamp>.png (ocr_full_<timestamp>.png for full frames).
func (a *Artifacts) Save(img image.Image, kind RegionKind, at time.Time) (string, error) {
	prefix := "ocr_"
	if kind == Full {
		prefix = "ocr_full_"
	}
	stamp := strings.Replace(at.Format("20060102_150405.000000"), ".", "_", 1)
	f, err := os.CreateTemp(a.dir, prefix+stamp+"_*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Release deletes one artifact unless artifacts are kept. Errors are ignored;
// a leftover file is harmless and Clear will pick it up.
func (a *Artifacts) Release(path string) {
	if a.keep || path == "" {
		return
	}
	_ = os.Remove(path)
}

// Clear removes every PNG in the artifact directory and reports how many
// were deleted.
func (a *Artifacts) Clear() (int, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "*.png"))
	if err != nil {
		return 0, err
	}
	n := 0
	var firstErr error
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			if firstErr == nil && !os.IsNotExist(err) {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}
