package ocr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func writeResponse(t *testing.T, pipe *MockCloser, resp Response) {
	t.Helper()
	body, err := msgpack.Marshal(&resp)
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.Write(body)
}

func TestWorkerRecognize(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	writeResponse(t, dataPipeMock, Response{
		ID: 1,
		OK: true,
		Words: []vision.Word{
			{Text: "Play", Left: 10, Top: 20, Width: 40, Height: 18, Conf: 96},
			{Text: "Anyway", Left: 56, Top: 20, Width: 70, Height: 18, Conf: 94.5},
		},
	})

	// Cmd is nil because we aren't testing process management, just the protocol
	w := &Worker{Stdin: stdinMock, DataPipe: dataPipeMock, PSM: 6, log: log.Nop()}

	words, err := w.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(words) != 2 || words[1].Text != "Anyway" || words[1].Conf != 94.5 {
		t.Errorf("Unexpected words %+v", words)
	}

	// Verify Go sent a well-formed request TO the worker
	sent := stdinMock.Bytes()
	n := binary.BigEndian.Uint32(sent[:4])
	if int(n) != len(sent)-4 {
		t.Fatalf("Expected length prefix %d, got %d", len(sent)-4, n)
	}
	var req Request
	if err := msgpack.Unmarshal(sent[4:], &req); err != nil {
		t.Fatalf("Request is not msgpack: %v", err)
	}
	if req.ID != 1 || req.PSM != 6 || !bytes.HasPrefix(req.Image, []byte("\x89PNG")) {
		t.Errorf("Unexpected request id=%d psm=%d image=% x", req.ID, req.PSM, req.Image[:4])
	}
}

func TestWorkerError(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	errMsg := "TesseractNotFoundError"
	writeResponse(t, dataPipeMock, Response{ID: 1, OK: false, Error: errMsg})

	w := &Worker{Stdin: stdinMock, DataPipe: dataPipeMock}
	_, err := w.Communicate(Request{ID: 1})
	if !errors.Is(err, ErrWorker) {
		t.Fatalf("Expected ErrWorker, got %v", err)
	}
	if !strings.Contains(err.Error(), errMsg) {
		t.Errorf("Expected worker message in error, got %v", err)
	}
}

func TestWorkerMismatchedID(t *testing.T) {
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	writeResponse(t, dataPipeMock, Response{ID: 7, OK: true})

	w := &Worker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: dataPipeMock}
	if _, err := w.Communicate(Request{ID: 1}); !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker for mismatched id, got %v", err)
	}
}

func TestWorkerDeadPipe(t *testing.T) {
	// An empty data pipe is what a crashed worker looks like.
	w := &Worker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	if _, err := w.Communicate(Request{ID: 1}); err == nil {
		t.Fatal("Expected error from dead worker")
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1))
	if _, err := readMessage(&buf); !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
}

func TestNewWorkerEmptyCommand(t *testing.T) {
	if _, err := NewWorker(context.Background(), nil, 6, 0, nil); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Expected ErrEngineUnavailable, got %v", err)
	}
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t960\t583\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t300\t400\t180\t30\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t300\t400\t70\t30\t96.412\tPlay\n" +
	"5\t1\t1\t1\t1\t2\t380\t400\t100\t30\t91\tAnyway\n"

func TestParseTSV(t *testing.T) {
	words, err := ParseTSV(strings.NewReader(sampleTSV))
	if err != nil {
		t.Fatalf("ParseTSV failed: %v", err)
	}
	if len(words) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(words))
	}
	if words[0].Conf != -1 || words[0].Text != "" {
		t.Errorf("Expected layout row, got %+v", words[0])
	}
	if words[2] != (vision.Word{Text: "Play", Left: 300, Top: 400, Width: 70, Height: 30, Conf: 96.412}) {
		t.Errorf("Unexpected word %+v", words[2])
	}

	m, ok := vision.Locate(words, "Play Anyway")
	if !ok || m.Box != image.Rect(300, 400, 480, 430) {
		t.Errorf("Expected located box, got %v ok=%v", m.Box, ok)
	}
	if vision.SearchText(words) != "play anyway" {
		t.Errorf("Unexpected search text %q", vision.SearchText(words))
	}
}

func TestParseTSVErrors(t *testing.T) {
	if _, err := ParseTSV(strings.NewReader("level\ttext\n")); err == nil {
		t.Error("Expected header error")
	}
	bad := "left\ttop\twidth\theight\tconf\ttext\nx\t1\t1\t1\t1\thi\n"
	if _, err := ParseTSV(strings.NewReader(bad)); err == nil {
		t.Error("Expected parse error for bad left")
	}
}

func TestTesseractMissingBinary(t *testing.T) {
	tess := NewTesseract("no-such-tesseract-binary", 6, t.TempDir(), nil)
	if _, err := tess.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2))); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Expected ErrEngineUnavailable, got %v", err)
	}
}
