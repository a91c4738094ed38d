package engine

import (
	"errors"
	"sync"

	iface "LiveDetect/interface"
)

// Error taxonomy for a single detect call. Every failure is local to the call
// that produced it and never corrupts pipeline state for later frames.
var (
	// ErrInvalidFrame marks a malformed or empty input frame.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrShapeMismatch marks a tensor whose shape violates the backend
	// contract. Retrying the same shapes will not succeed.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrBackendExecution marks a failure inside the inference runtime.
	ErrBackendExecution = errors.New("backend execution failed")
)

// Config holds every runtime-settable pipeline parameter. New values take
// effect on the next detect call, never mid-call.
type Config struct {
	ConfThreshold float32
	IouThreshold  float32
	MaxDetections int
	InputWidth    int
	InputHeight   int
	// Normalize maps input channel values from [0,1] to [-1,1].
	Normalize bool
	// ClassAwareNMS suppresses overlaps only within the same class instead
	// of across all classes.
	ClassAwareNMS bool
}

// DefaultConfig mirrors the thresholds the reference YOLO-style model ships
// with.
func DefaultConfig() Config {
	return Config{
		ConfThreshold: 0.5,
		IouThreshold:  0.45,
		MaxDetections: 10,
		InputWidth:    320,
		InputHeight:   320,
		Normalize:     true,
		ClassAwareNMS: false,
	}
}

// configStore guards hot-settable config behind a RWMutex. Detect snapshots
// it once per call.
type configStore struct {
	mu  sync.RWMutex
	cfg Config
}

func (c *configStore) get() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *configStore) update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.cfg)
}

// Observer receives the final batch of one successful pipeline run.
type Observer func(iface.DetectionBatch)
