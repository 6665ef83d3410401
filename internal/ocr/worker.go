package ocr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/utils" // Using the SafeCommand wrapper
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// MaxMessageSize bounds a single worker message, header excluded.
const MaxMessageSize = 64 * 1024 * 1024

// ErrWorker is returned when the worker reports a failure or the protocol breaks.
var ErrWorker = errors.New("ocr worker error")

// Request is one recognition job.
type Request struct {
	ID    uint64 `msgpack:"id"`
	Image []byte `msgpack:"image"` // PNG
	PSM   int    `msgpack:"psm"`
}

// Response is the worker's answer to a Request.
type Response struct {
	ID    uint64        `msgpack:"id"`
	OK    bool          `msgpack:"ok"`
	Error string        `msgpack:"error,omitempty"`
	Words []vision.Word `msgpack:"words"`
}

// Worker is a long-lived OCR process. Requests go to its stdin and replies
// come back on a side-channel pipe (FD 3), both as [uint32 length][msgpack].
type Worker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	PSM      int
	Timeout  time.Duration

	seq uint64
	log *log.Logger
}

// NewWorker starts command (argv) as an OCR worker.
func NewWorker(ctx context.Context, command []string, psm int, timeout time.Duration, logger *log.Logger) (*Worker, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty worker command", ErrEngineUnavailable)
	}
	proc := utils.NewSafeCommand(ctx, command[0], command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%w: worker failed to start: %v", ErrEngineUnavailable, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Worker{
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		PSM:      psm,
		Timeout:  timeout,
		log:      logger.Named("ocr-worker"),
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one request and waits for its reply.
func (w *Worker) Communicate(req Request) (*Response, error) {
	body, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := writeMessage(w.Stdin, body); err != nil {
		return nil, w.Cmd.Wrap("writing to ocr worker", err)
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.Timeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.Timeout))
		defer d.SetReadDeadline(time.Time{})
	}
	payload, err := readMessage(w.DataPipe)
	if err != nil {
		// This is where we catch a worker that crashed on import
		return nil, w.Cmd.Wrap("reading from ocr worker", err)
	}

	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrWorker, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response id %d for request %d", ErrWorker, resp.ID, req.ID)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
	}
	return &resp, nil
}

// Recognize implements vision.Recognizer.
func (w *Worker) Recognize(ctx context.Context, img image.Image) ([]vision.Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding ocr input: %w", err)
	}
	w.seq++
	resp, err := w.Communicate(Request{ID: w.seq, Image: buf.Bytes(), PSM: w.PSM})
	if err != nil {
		return nil, err
	}
	w.log.Debug("recognized", map[string]any{"id": resp.ID, "words": len(resp.Words)})
	return resp.Words, nil
}

// Close shuts the worker down and waits for it to exit.
func (w *Worker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

func writeMessage(wr io.Writer, body []byte) error {
	// Protocol: [Length][Data]
	if err := binary.Write(wr, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	_, err := wr.Write(body)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds %d", ErrWorker, n, MaxMessageSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
