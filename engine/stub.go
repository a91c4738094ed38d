package engine

import (
	"fmt"

	iface "LiveDetect/interface"
)

// StubBackend returns a canned output tensor on every invoke. It stands in
// for the native runtime in tests and in the host's mock mode, selected at
// construction the same way the real backend is.
type StubBackend struct {
	inputShape  []int
	outputShape []int
	output      []float32

	// InvokeErr, when set, makes every Invoke fail with it.
	InvokeErr error
	// Invocations counts completed Invoke calls.
	Invocations int
}

// NewStubBackend builds a stub producing the given output for the given
// shapes. The output slice is returned as-is; callers own it.
func NewStubBackend(inputShape, outputShape []int, output []float32) *StubBackend {
	return &StubBackend{
		inputShape:  inputShape,
		outputShape: outputShape,
		output:      output,
	}
}

func (s *StubBackend) Invoke(input iface.Tensor) (iface.Tensor, error) {
	if !input.SameShape(s.inputShape) {
		return iface.Tensor{}, fmt.Errorf("%w: stub got %v, wants %v",
			ErrShapeMismatch, input.Shape, s.inputShape)
	}
	if s.InvokeErr != nil {
		return iface.Tensor{}, s.InvokeErr
	}
	s.Invocations++
	return iface.Tensor{Data: s.output, Shape: s.outputShape}, nil
}

func (s *StubBackend) InputShape() []int  { return s.inputShape }
func (s *StubBackend) OutputShape() []int { return s.outputShape }
func (s *StubBackend) Close() error       { return nil }
