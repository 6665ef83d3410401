package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mbilal031/HID-PICO-OCR/internal/config"
	"github.com/mbilal031/HID-PICO-OCR/internal/ocr"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// newClassifier builds the configured OCR engine and wraps it in a
// Classifier. The returned func stops a worker process, if one was started.
func newClassifier(ctx context.Context) (*vision.Classifier, func(), error) {
	var (
		rec     vision.Recognizer
		closeFn = func() {}
	)
	switch Cfg.OCR.Engine {
	case config.EngineWorker:
		fmt.Fprintf(os.Stderr, "⚙️  Starting OCR worker: %v\n", Cfg.OCR.WorkerCommand)
		w, err := ocr.NewWorker(ctx, Cfg.OCR.WorkerCommand, Cfg.OCR.PSM, Cfg.OCR.WorkerTimeout.Duration, Log)
		if err != nil {
			return nil, nil, err
		}
		rec = w
		closeFn = func() {
			if err := w.Close(); err != nil {
				Log.Warn("ocr worker did not exit cleanly", map[string]any{"error": err})
			}
		}
	default:
		rec = ocr.NewTesseract(Cfg.OCR.Tesseract, Cfg.OCR.PSM, "", Log)
	}
	return vision.NewClassifier(rec, Cfg.Phrases, Cfg.OCR.Contrast), closeFn, nil
}
