// Package ocr provides the text-recognition engines behind vision.Recognizer:
// the tesseract command line and a long-lived worker process.
package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/utils"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// ErrEngineUnavailable is returned when the OCR binary or worker is missing.
var ErrEngineUnavailable = errors.New("ocr: engine unavailable")

// Tesseract runs the tesseract CLI once per image and parses its TSV output.
type Tesseract struct {
	Binary string
	PSM    int
	// Dir receives the temporary input image; empty means the OS temp dir.
	Dir string
	log *log.Logger
}

// NewTesseract returns a Tesseract engine using page segmentation mode psm.
func NewTesseract(binary string, psm int, dir string, logger *log.Logger) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{Binary: binary, PSM: psm, Dir: dir, log: logger.Named("tesseract")}
}

// Recognize implements vision.Recognizer. The input image is written to a
// temporary PNG that is removed before returning.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]vision.Word, error) {
	if _, err := exec.LookPath(t.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrEngineUnavailable, t.Binary)
	}

	f, err := os.CreateTemp(t.Dir, "ocr_input_*.png")
	if err != nil {
		return nil, fmt.Errorf("creating ocr input: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("encoding ocr input: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	cmd := utils.NewSafeCommand(ctx, t.Binary, path, "stdout", "--psm", strconv.Itoa(t.PSM), "tsv")
	out, err := cmd.Output()
	if err != nil {
		return nil, cmd.Wrap("tesseract", err)
	}
	words, err := ParseTSV(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	t.log.Debug("recognized", map[string]any{"words": len(words)})
	return words, nil
}

// ParseTSV reads tesseract's TSV output. Every data row is returned,
// including the layout rows (conf -1, empty text) so callers can decide what
// to skip.
func ParseTSV(r io.Reader) ([]vision.Word, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	col := map[string]int{}
	var words []vision.Word
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "\t")
		if len(col) == 0 {
			for i, name := range fields {
				col[strings.TrimSpace(name)] = i
			}
			for _, need := range []string{"left", "top", "width", "height", "conf", "text"} {
				if _, ok := col[need]; !ok {
					return nil, fmt.Errorf("tsv header missing %q", need)
				}
			}
			continue
		}
		if len(fields) < len(col)-1 {
			continue
		}
		get := func(name string) string {
			if i := col[name]; i < len(fields) {
				return fields[i]
			}
			return ""
		}
		w := vision.Word{Text: get("text")}
		var err error
		for _, p := range []struct {
			name string
			dst  *int
		}{
			{"left", &w.Left}, {"top", &w.Top}, {"width", &w.Width}, {"height", &w.Height},
		} {
			if *p.dst, err = strconv.Atoi(strings.TrimSpace(get(p.name))); err != nil {
				return nil, fmt.Errorf("tsv line %d: bad %s: %w", line, p.name, err)
			}
		}
		if w.Conf, err = strconv.ParseFloat(strings.TrimSpace(get("conf")), 64); err != nil {
			return nil, fmt.Errorf("tsv line %d: bad conf: %w", line, err)
		}
		words = append(words, w)
	}
	return words, sc.Err()
}
