package vision

import (
	"context"
	"image"

	"github.com/corona10/goimagehash"
)

// Memo reuses the previous classification when a frame is perceptually the
// same as the last one classified. It is meant for long waits on a static
// dialog, where OCR on every poll costs more than the poll interval.
type Memo struct {
	c           *Classifier
	maxDistance int
	lastHash    *goimagehash.ImageHash
	last        Result
	hits        int
}

// NewMemo wraps c. Frames whose pHash Hamming distance to the last classified
// frame is at most maxDistance reuse its result.
func NewMemo(c *Classifier, maxDistance int) *Memo {
	return &Memo{c: c, maxDistance: maxDistance}
}

// Hits counts classifications served from the memo.
func (m *Memo) Hits() int { return m.hits }

// Reset forgets the last frame.
func (m *Memo) Reset() {
	m.lastHash = nil
	m.last = Result{}
}

// Classify returns the memoized result for a similar frame or classifies img.
func (m *Memo) Classify(ctx context.Context, img image.Image) (Result, error) {
	hash, hashErr := goimagehash.PerceptionHash(img)
	if hashErr == nil && m.lastHash != nil {
		if dist, err := m.lastHash.Distance(hash); err == nil && dist <= m.maxDistance {
			m.hits++
			return m.last, nil
		}
	}

	res, err := m.c.Classify(ctx, img)
	if err != nil {
		return Result{}, err
	}
	if hashErr == nil {
		m.lastHash = hash
		m.last = res
	} else {
		m.Reset()
	}
	return res, nil
}
