package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// queueResponse writes one length-prefixed response into the fake data pipe.
func queueResponse(t *testing.T, pipe *MockCloser, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.Write(body)
}

// newMockEngine injects a worker backed by buffers. Cmd is nil because we aren't testing process management.
func newMockEngine(stdin, data *MockCloser) *Engine {
	e := NewEngine(Options{}, zerolog.Nop())
	e.w = &PythonWorker{ID: 1, Stdin: stdin, DataPipe: data}
	e.spawn = func() (*PythonWorker, error) { return nil, errors.New("spawn disabled in tests") }
	return e
}

func TestCommunicateFraming(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	reply := []byte("pong")
	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(reply)))
	dataPipeMock.Write(reply)

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}
	input := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	resp, err := w.Communicate(input)
	if err != nil {
		t.Fatalf("Communicate failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: 4 bytes header + data
	sent := stdinMock.Bytes()
	if len(sent) != 4+len(input) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(input), len(sent))
	}
	if binary.BigEndian.Uint32(sent[:4]) != uint32(len(input)) {
		t.Errorf("Bad length header %X", sent[:4])
	}
	if !bytes.Equal(resp, reply) {
		t.Errorf("Expected %q, got %q", reply, resp)
	}
}

func TestDetectFaces(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	queueResponse(t, dataPipeMock, map[string]any{
		"boxes": []types.BoundingBox{{Top: 10, Right: 50, Bottom: 60, Left: 5}},
	})

	e := newMockEngine(stdinMock, dataPipeMock)
	frame := types.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	boxes, err := e.DetectFaces(context.Background(), frame)
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(boxes) != 1 || boxes[0].Right != 50 {
		t.Fatalf("Unexpected boxes %+v", boxes)
	}

	// [len][op][metaLen=0][image]
	sent := stdinMock.Bytes()
	if sent[4] != opDetect {
		t.Errorf("Expected detect opcode, got %q", sent[4])
	}
	if binary.BigEndian.Uint32(sent[5:9]) != 0 {
		t.Errorf("Expected empty meta for detect")
	}
	if !bytes.Equal(sent[9:], frame.Data) {
		t.Errorf("Image payload mismatch: %X", sent[9:])
	}
}

func TestExtractEmbeddings(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	queueResponse(t, dataPipeMock, map[string]any{
		"embeddings": [][]float64{{0.5, 0.25}},
	})

	e := newMockEngine(stdinMock, dataPipeMock)
	boxes := []types.BoundingBox{{Top: 1, Right: 2, Bottom: 3, Left: 0}}
	embs, err := e.ExtractEmbeddings(context.Background(), types.Frame{Data: []byte{1}}, boxes)
	if err != nil {
		t.Fatalf("ExtractEmbeddings failed: %v", err)
	}
	if len(embs) != 1 || embs[0][0] != 0.5 {
		t.Fatalf("Unexpected embeddings %v", embs)
	}

	sent := stdinMock.Bytes()
	metaLen := binary.BigEndian.Uint32(sent[5:9])
	var meta extractMeta
	if err := json.Unmarshal(sent[9:9+metaLen], &meta); err != nil {
		t.Fatalf("meta is not JSON: %v", err)
	}
	if len(meta.Boxes) != 1 || meta.Boxes[0].Bottom != 3 {
		t.Errorf("Boxes not forwarded: %+v", meta.Boxes)
	}
}

func TestEngineErrorResponse(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	queueResponse(t, dataPipeMock, types.ErrorResult{Error: "model not loaded"})

	e := newMockEngine(stdinMock, dataPipeMock)
	_, err := e.DetectFaces(context.Background(), types.Frame{})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Expected ErrEngine, got %v", err)
	}
	// An application-level error keeps the process.
	if e.w == nil {
		t.Error("Worker should survive an error response")
	}
}

func TestEngineCrashDiscardsWorker(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)} // empty: read hits EOF

	e := newMockEngine(stdinMock, dataPipeMock)
	_, err := e.DetectFaces(context.Background(), types.Frame{})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Expected ErrEngine, got %v", err)
	}
	if e.w != nil {
		t.Error("Worker should be discarded after a stream failure")
	}

	// Next call attempts a respawn, which fails in tests.
	if _, err := e.DetectFaces(context.Background(), types.Frame{}); !errors.Is(err, ErrEngine) {
		t.Errorf("Expected respawn failure wrapped in ErrEngine, got %v", err)
	}
}

// blockingReader never returns until closed.
type blockingReader struct{ closed chan struct{} }

func (b *blockingReader) Read([]byte) (int, error) { <-b.closed; return 0, io.EOF }
func (b *blockingReader) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestEngineReadTimeout(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	e := newMockEngine(stdinMock, nil)
	e.w.DataPipe = &blockingReader{closed: make(chan struct{})}
	e.opts.ReadTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := e.DetectFaces(context.Background(), types.Frame{})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Expected timeout wrapped in ErrEngine, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout was not honored")
	}
}
