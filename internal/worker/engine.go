package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// ErrEngine marks failures reported by, or caused by, the engine process.
var ErrEngine = errors.New("embedding engine failure")

const (
	opDetect  byte = 'D'
	opExtract byte = 'E'
)

type detectResponse struct {
	types.ErrorResult
	Boxes []types.BoundingBox `json:"boxes"`
}

type extractResponse struct {
	types.ErrorResult
	Embeddings []types.Embedding `json:"embeddings"`
}

type extractMeta struct {
	Boxes []types.BoundingBox `json:"boxes"`
}

// Options configures the process-backed engine.
type Options struct {
	Python      string
	Script      string
	ReadTimeout time.Duration
	Distance    engine.DistanceFunc
}

// Engine implements engine.Engine over a single PythonWorker.
// Requests are serialized; the process is (re)spawned lazily after a failure.
type Engine struct {
	opts  Options
	log   zerolog.Logger
	spawn func() (*PythonWorker, error)

	mu     sync.Mutex
	w      *PythonWorker
	spawns int
}

// NewEngine returns an engine that starts its process on first use.
func NewEngine(opts Options, log zerolog.Logger) *Engine {
	if opts.Distance == nil {
		opts.Distance = engine.Euclidean
	}
	e := &Engine{opts: opts, log: log}
	e.spawn = func() (*PythonWorker, error) {
		e.spawns++
		return NewPythonWorker(e.spawns, opts.Python, opts.Script)
	}
	return e
}

var _ engine.Engine = (*Engine)(nil)

// DetectFaces returns face locations in the frame.
func (e *Engine) DetectFaces(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error) {
	body, err := e.call(ctx, opDetect, nil, frame.Data)
	if err != nil {
		return nil, err
	}
	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode detect response: %v", ErrEngine, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEngine, resp.Error)
	}
	return resp.Boxes, nil
}

// ExtractEmbeddings returns one embedding per box, in box order.
func (e *Engine) ExtractEmbeddings(ctx context.Context, frame types.Frame, boxes []types.BoundingBox) ([]types.Embedding, error) {
	if len(boxes) == 0 {
		return nil, nil
	}
	meta, err := json.Marshal(extractMeta{Boxes: boxes})
	if err != nil {
		return nil, err
	}
	body, err := e.call(ctx, opExtract, meta, frame.Data)
	if err != nil {
		return nil, err
	}
	var resp extractResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode extract response: %v", ErrEngine, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEngine, resp.Error)
	}
	return resp.Embeddings, nil
}

// Distance delegates to the configured metric.
func (e *Engine) Distance(a, b types.Embedding) float64 {
	return e.opts.Distance(a, b)
}

// Close stops the engine process if running.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w != nil {
		e.w.Close()
		e.w = nil
	}
}

// encodeRequest frames [op][u32 metaLen][meta][image].
func encodeRequest(op byte, meta, image []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 5+len(meta)+len(image)))
	buf.WriteByte(op)
	binary.Write(buf, binary.BigEndian, uint32(len(meta)))
	buf.Write(meta)
	buf.Write(image)
	return buf.Bytes()
}

type result struct {
	body []byte
	err  error
}

func (e *Engine) call(ctx context.Context, op byte, meta, image []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w == nil {
		w, err := e.spawn()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngine, err)
		}
		e.w = w
	}
	w := e.w

	done := make(chan result, 1)
	go func() {
		body, err := w.Communicate(encodeRequest(op, meta, image))
		done <- result{body: body, err: err}
	}()

	var timeout <-chan time.Time
	if e.opts.ReadTimeout > 0 {
		timer := time.NewTimer(e.opts.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			e.discard(w, res.err)
			return nil, fmt.Errorf("%w: %v", ErrEngine, res.err)
		}
		return res.body, nil
	case <-timeout:
		e.discard(w, errors.New("read timeout"))
		return nil, fmt.Errorf("%w: timed out after %s", ErrEngine, e.opts.ReadTimeout)
	case <-ctx.Done():
		e.discard(w, ctx.Err())
		return nil, ctx.Err()
	}
}

// discard drops a worker whose stream state is no longer trustworthy.
func (e *Engine) discard(w *PythonWorker, cause error) {
	ev := e.log.Warn().Err(cause).Int("worker", w.ID)
	if w.Cmd != nil {
		ev = ev.Str("stderr", w.Logs())
	}
	ev.Msg("engine process discarded, will respawn on next request")
	w.Kill()
	go w.Close()
	e.w = nil
}
