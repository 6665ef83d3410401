// Package vision turns captured frames into Symbols: it preprocesses the
// image, hands it to a text recognizer, and matches the recognized text
// against the configured phrase sets.
package vision

import (
	"context"
	"fmt"
	"image"
)

// DefaultContrast is the gain applied before binarization.
const DefaultContrast = 2.0

// Recognizer extracts words with positions from a preprocessed image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Word, error)
}

// Result is one classification.
type Result struct {
	Symbol Symbol
	Text   string
	Words  []Word
}

// Classifier runs the full frame-to-symbol pipeline.
type Classifier struct {
	rec      Recognizer
	phrases  PhraseSets
	contrast float64
}

// NewClassifier builds a Classifier. A non-positive contrast uses DefaultContrast.
func NewClassifier(rec Recognizer, phrases PhraseSets, contrast float64) *Classifier {
	if contrast <= 0 {
		contrast = DefaultContrast
	}
	return &Classifier{rec: rec, phrases: phrases.Normalized(), contrast: contrast}
}

// Phrases returns the normalized phrase sets in use.
func (c *Classifier) Phrases() PhraseSets { return c.phrases }

// Recognize preprocesses img and returns the recognized words.
func (c *Classifier) Recognize(ctx context.Context, img image.Image) ([]Word, error) {
	words, err := c.rec.Recognize(ctx, Preprocess(img, c.contrast))
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}
	return words, nil
}

// Classify maps a frame to a Symbol.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (Result, error) {
	words, err := c.Recognize(ctx, img)
	if err != nil {
		return Result{}, err
	}
	text := SearchText(words)
	return Result{Symbol: c.phrases.Classify(text), Text: text, Words: words}, nil
}

// Locate finds phrase in the frame. When the standard pass misses, an
// inverted pass is tried for light text on dark buttons. Coordinates are
// relative to img's top-left corner.
func (c *Classifier) Locate(ctx context.Context, img image.Image, phrase string) (Match, bool, error) {
	words, err := c.Recognize(ctx, img)
	if err != nil {
		return Match{}, false, err
	}
	if m, ok := Locate(words, phrase); ok {
		return m, true, nil
	}
	words, err = c.rec.Recognize(ctx, PreprocessInverted(img))
	if err != nil {
		return Match{}, false, fmt.Errorf("recognizing inverted text: %w", err)
	}
	m, ok := Locate(words, phrase)
	return m, ok, nil
}
