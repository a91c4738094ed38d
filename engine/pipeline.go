package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	iface "LiveDetect/interface"
	"LiveDetect/logger"
	"LiveDetect/monitor"
)

// Pipeline wires preprocessing, inference, decoding and suppression into one
// detect operation. It owns the backend for its whole lifetime and enforces
// at most one inference in flight; callers that want admission control on top
// of that go through the scheduler instead of calling Detect concurrently.
type Pipeline struct {
	backend    iface.Backend
	labels     *LabelTable
	numClasses int

	cfg configStore

	// runMu serializes Detect; mobile inference runtimes are single-tenant.
	runMu sync.Mutex

	obsMu     sync.RWMutex
	observers map[string]Observer
}

// NewPipeline builds a pipeline around an already-constructed backend. The
// class count is derived from the backend's output shape (rows of
// 4 + 1 + numClasses values).
func NewPipeline(backend iface.Backend, labels *LabelTable, cfg Config) (*Pipeline, error) {
	if backend == nil {
		return nil, errors.New("pipeline requires a backend")
	}
	outShape := backend.OutputShape()
	if len(outShape) == 0 {
		return nil, fmt.Errorf("%w: backend reports no output shape", ErrShapeMismatch)
	}
	rowLen := outShape[len(outShape)-1]
	numClasses := rowLen - boxFields - 1
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: output row length %d leaves no class scores",
			ErrShapeMismatch, rowLen)
	}
	if cfg.MaxDetections < 1 {
		return nil, fmt.Errorf("maxDetections must be >= 1, got %d", cfg.MaxDetections)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("input resolution must be positive, got %dx%d",
			cfg.InputWidth, cfg.InputHeight)
	}
	p := &Pipeline{
		backend:    backend,
		labels:     labels,
		numClasses: numClasses,
		observers:  map[string]Observer{},
	}
	p.cfg.cfg = cfg
	logger.Log().Info("pipeline created",
		zap.Int("numClasses", numClasses),
		zap.Int("inputWidth", cfg.InputWidth),
		zap.Int("inputHeight", cfg.InputHeight),
		zap.Float32("confThreshold", cfg.ConfThreshold),
		zap.Float32("iouThreshold", cfg.IouThreshold))
	return p, nil
}

// Detect runs one frame through the full pipeline and returns the final
// batch. On any stage failure the call fails as a whole, no observers fire
// and no partial detections leak out. A zero-detection run is a success and
// delivers an empty batch.
func (p *Pipeline) Detect(frame iface.Frame) (iface.DetectionBatch, error) {
	cfg := p.cfg.get()

	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	batch, err := p.run(frame, cfg)
	if err != nil {
		monitor.DetectFailures.Inc()
		return nil, err
	}
	monitor.DetectLatency.Observe(time.Since(start).Seconds())
	monitor.DetectionsEmitted.Add(float64(len(batch)))

	p.notify(batch)
	return batch, nil
}

func (p *Pipeline) run(frame iface.Frame, cfg Config) (iface.DetectionBatch, error) {
	input, err := Preprocess(frame, cfg.InputWidth, cfg.InputHeight, cfg.Normalize)
	if err != nil {
		return nil, err
	}
	if want := p.backend.InputShape(); !input.SameShape(want) {
		return nil, fmt.Errorf("%w: preprocessed shape %v, backend expects %v",
			ErrShapeMismatch, input.Shape, want)
	}

	output, err := p.backend.Invoke(input)
	if err != nil {
		if errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrBackendExecution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendExecution, err)
	}
	if want := p.backend.OutputShape(); !output.SameShape(want) {
		return nil, fmt.Errorf("%w: backend returned shape %v, declared %v",
			ErrShapeMismatch, output.Shape, want)
	}

	candidates, err := DecodeCandidates(output, p.numClasses, cfg.ConfThreshold,
		float32(cfg.InputWidth), float32(cfg.InputHeight))
	if err != nil {
		return nil, err
	}
	detections := CandidatesToDetections(candidates, p.labels)
	return Suppress(detections, cfg.IouThreshold, cfg.MaxDetections, cfg.ClassAwareNMS), nil
}

// Subscribe registers an observer for completed batches and returns its id.
// Observers fire synchronously on whichever goroutine ran Detect, after
// suppression, once per successful run.
func (p *Pipeline) Subscribe(obs Observer) string {
	id := uuid.New().String()
	p.obsMu.Lock()
	p.observers[id] = obs
	p.obsMu.Unlock()
	return id
}

// Unsubscribe removes an observer; it reports whether the id was registered.
func (p *Pipeline) Unsubscribe(id string) bool {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	_, ok := p.observers[id]
	delete(p.observers, id)
	return ok
}

func (p *Pipeline) notify(batch iface.DetectionBatch) {
	p.obsMu.RLock()
	obs := make([]Observer, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.obsMu.RUnlock()
	for _, o := range obs {
		o(batch)
	}
}

// Config returns the current configuration snapshot.
func (p *Pipeline) Config() Config {
	return p.cfg.get()
}

// The setters below take effect on the next Detect call.

func (p *Pipeline) SetConfThreshold(v float32) {
	p.cfg.update(func(c *Config) { c.ConfThreshold = v })
}

func (p *Pipeline) SetIouThreshold(v float32) {
	p.cfg.update(func(c *Config) { c.IouThreshold = v })
}

func (p *Pipeline) SetMaxDetections(n int) {
	if n < 1 {
		return
	}
	p.cfg.update(func(c *Config) { c.MaxDetections = n })
}

func (p *Pipeline) SetInputSize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	p.cfg.update(func(c *Config) {
		c.InputWidth = w
		c.InputHeight = h
	})
}

func (p *Pipeline) SetNormalize(v bool) {
	p.cfg.update(func(c *Config) { c.Normalize = v })
}

func (p *Pipeline) SetClassAwareNMS(v bool) {
	p.cfg.update(func(c *Config) { c.ClassAwareNMS = v })
}

// Close releases the backend. The pipeline must not be used afterwards.
func (p *Pipeline) Close() error {
	return p.backend.Close()
}
