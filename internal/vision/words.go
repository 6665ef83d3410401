package vision

import (
	"image"
	"strings"
	"unicode"
)

// Word is one recognized token. Conf is the engine's confidence; negative
// values mark layout rows that carry no text.
type Word struct {
	Text   string  `msgpack:"text"`
	Left   int     `msgpack:"left"`
	Top    int     `msgpack:"top"`
	Width  int     `msgpack:"width"`
	Height int     `msgpack:"height"`
	Conf   float64 `msgpack:"conf"`
}

// Box is the word's bounding rectangle.
func (w Word) Box() image.Rectangle {
	return image.Rect(w.Left, w.Top, w.Left+w.Width, w.Top+w.Height)
}

func (w Word) usable() bool {
	return w.Conf >= 0 && strings.TrimSpace(w.Text) != ""
}

// SearchText joins the non-empty words, lowercased, with single spaces.
func SearchText(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, strings.ToLower(t))
		}
	}
	return strings.Join(parts, " ")
}

// Match is a located phrase.
type Match struct {
	Box    image.Rectangle
	Center image.Point
}

// Locate finds the first contiguous run of words equal to phrase's words,
// compared case-insensitively with surrounding punctuation ignored. It never
// guesses: ok is false when no exact run exists.
func Locate(words []Word, phrase string) (Match, bool) {
	target := strings.Fields(strings.ToLower(phrase))
	if len(target) == 0 {
		return Match{}, false
	}
	tokens := make([]Word, 0, len(words))
	for _, w := range words {
		if w.usable() {
			tokens = append(tokens, w)
		}
	}
	for i := 0; i+len(target) <= len(tokens); i++ {
		matched := true
		for j, want := range target {
			if normalizeToken(tokens[i+j].Text) != want {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		box := tokens[i].Box()
		for _, w := range tokens[i+1 : i+len(target)] {
			box = box.Union(w.Box())
		}
		return Match{
			Box:    box,
			Center: image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2),
		}, true
	}
	return Match{}, false
}

func normalizeToken(s string) string {
	return strings.TrimFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
