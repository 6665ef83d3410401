package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"

	"github.com/mbilal031/HID-PICO-OCR/internal/utils"
)

const megabyte = 1024 * 1024

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpeg grabs single frames from a V4L2 capture device through ffmpeg.
// The device is opened per grab and released afterwards, so nothing holds it
// between polls.
type FFmpeg struct {
	Device     string
	Width      int
	Height     int
	SkipFrames int // frames discarded while the device's auto exposure settles
	Binary     string
}

// Args builds the ffmpeg argument list for one grab.
func (f *FFmpeg) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if f.Width > 0 && f.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", f.Width, f.Height))
	}
	args = append(args, "-i", f.Device)
	if f.SkipFrames > 0 {
		args = append(args, "-vf", "select=gte(n\\,"+strconv.Itoa(f.SkipFrames)+")")
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	return append(args, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// Grab implements Grabber.
func (f *FFmpeg) Grab(ctx context.Context) (image.Image, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrCaptureUnavailable, bin)
	}

	cmd := utils.NewSafeCommand(ctx, bin, f.Args()...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, cmd.Wrap("starting ffmpeg", err))
	}

	img, decodeErr := firstJpeg(out)
	// Drain so ffmpeg never blocks on a full pipe before exiting.
	_, _ = io.Copy(io.Discard, out)
	waitErr := cmd.Wait()

	if decodeErr != nil {
		if waitErr != nil {
			decodeErr = cmd.Wrap("ffmpeg", waitErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCaptureUnavailable, f.Device, decodeErr)
	}
	return img, nil
}

func firstJpeg(r io.Reader) (image.Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no frame received")
	}
	return jpeg.Decode(bytes.NewReader(scanner.Bytes()))
}
