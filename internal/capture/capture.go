// Package capture acquires frames of the controlled host's screen and scopes
// the image artifacts written for each one.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
)

// ErrCaptureUnavailable is returned when the device cannot deliver a frame.
// Callers treat it as transient.
var ErrCaptureUnavailable = errors.New("capture: frame unavailable")

// RegionKind selects how much of the screen a Frame covers.
type RegionKind int

const (
	// Full is the whole captured screen.
	Full RegionKind = iota
	// Cropped is the login-form region.
	Cropped
)

func (k RegionKind) String() string {
	if k == Cropped {
		return "cropped"
	}
	return "full"
}

// Crop is a sub-region expressed as fractions of the frame size.
type Crop struct {
	X1, Y1, X2, Y2 float64
}

// DefaultCrop covers the login dialog on a 16:9 screen.
var DefaultCrop = Crop{X1: 0.25, Y1: 0.18, X2: 0.75, Y2: 0.72}

// Validate checks that the fractions lie in [0,1] and are ordered.
func (c Crop) Validate() error {
	for _, v := range []float64{c.X1, c.Y1, c.X2, c.Y2} {
		if v < 0 || v > 1 {
			return fmt.Errorf("crop fraction %v outside [0,1]", v)
		}
	}
	if c.X1 >= c.X2 || c.Y1 >= c.Y2 {
		return fmt.Errorf("crop %+v is empty or inverted", c)
	}
	return nil
}

// Rect resolves the crop against frame bounds, truncating toward the origin.
func (c Crop) Rect(b image.Rectangle) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	return image.Rect(
		b.Min.X+int(w*c.X1), b.Min.Y+int(h*c.Y1),
		b.Min.X+int(w*c.X2), b.Min.Y+int(h*c.Y2),
	)
}

// Frame is one captured image. Region is where Image sits inside the full
// capture, whose dimensions are Size.
type Frame struct {
	Image  image.Image
	Kind   RegionKind
	Region image.Rectangle
	Size   image.Point
	At     time.Time
	// Artifact is the on-disk copy, empty when artifacts are disabled.
	Artifact string
}

// ToFull translates a point measured in the frame image to full-capture
// coordinates.
func (f Frame) ToFull(pt image.Point) image.Point {
	return pt.Add(f.Region.Min)
}

// Grabber returns one full-resolution frame.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// FileGrabber serves a still image from disk, for offline classification.
type FileGrabber struct {
	Path string
}

// Grab implements Grabber.
func (g FileGrabber) Grab(ctx context.Context) (image.Image, error) {
	f, err := os.Open(g.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCaptureUnavailable, g.Path, err)
	}
	return img, nil
}

// Source produces Frames of a requested region kind.
type Source struct {
	grabber   Grabber
	crop      Crop
	artifacts *Artifacts
	log       *log.Logger
	now       func() time.Time
}

// NewSource builds a Source. artifacts may be nil.
func NewSource(g Grabber, crop Crop, artifacts *Artifacts, logger *log.Logger) *Source {
	return &Source{grabber: g, crop: crop, artifacts: artifacts, log: logger.Named("capture"), now: time.Now}
}

// Artifacts returns the artifact store, possibly nil.
func (s *Source) Artifacts() *Artifacts { return s.artifacts }

// Capture grabs a frame and crops it to kind.
func (s *Source) Capture(ctx context.Context, kind RegionKind) (Frame, error) {
	img, err := s.grabber.Grab(ctx)
	if err != nil {
		if !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		return Frame{}, err
	}
	b := img.Bounds()
	f := Frame{
		Image:  img,
		Kind:   kind,
		Region: b,
		Size:   b.Size(),
		At:     s.now(),
	}
	if kind == Cropped {
		f.Region = s.crop.Rect(b)
		f.Image = subImage(img, f.Region)
	}
	// Normalize so Region is relative to the capture origin.
	f.Region = f.Region.Sub(b.Min)
	return f, nil
}

// With captures a frame, persists it as an artifact when enabled, runs fn,
// and removes the artifact on every return path unless artifacts are kept.
func (s *Source) With(ctx context.Context, kind RegionKind, fn func(Frame) error) error {
	f, err := s.Capture(ctx, kind)
	if err != nil {
		return err
	}
	if s.artifacts != nil {
		path, err := s.artifacts.Save(f.Image, kind, f.At)
		if err != nil {
			s.log.Warn("artifact not saved", map[string]any{"error": err})
		} else {
			f.Artifact = path
			defer s.artifacts.Release(path)
		}
	}
	return fn(f)
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
