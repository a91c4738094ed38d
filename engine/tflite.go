package engine

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mattn/go-tflite"
	"go.uber.org/zap"

	iface "LiveDetect/interface"
	"LiveDetect/logger"
)

// TFLiteBackend runs a TensorFlow Lite model through the C interpreter. One
// instance holds the interpreter for the pipeline's whole lifetime; Invoke
// reuses the allocated tensors and is not safe for concurrent calls, which
// matches the pipeline's single-in-flight rule.
type TFLiteBackend struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputShape  []int
	outputShape []int
}

// NewTFLiteBackend constructs a backend from a serialized model blob.
func NewTFLiteBackend(modelData []byte, numThreads int) (*TFLiteBackend, error) {
	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, fmt.Errorf("%w: could not parse model blob", ErrBackendExecution)
	}
	return newTFLiteBackend(model, numThreads)
}

// NewTFLiteBackendFromFile constructs a backend from a .tflite file on disk.
func NewTFLiteBackendFromFile(path string, numThreads int) (*TFLiteBackend, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("%w: could not load model from %s", ErrBackendExecution, path)
	}
	return newTFLiteBackend(model, numThreads)
}

func newTFLiteBackend(model *tflite.Model, numThreads int) (*TFLiteBackend, error) {
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("failed to create interpreter options")
	}
	options.SetNumThread(numThreads)
	options.SetErrorReporter(func(msg string, userData interface{}) {
		logger.Log().Error("tflite runtime", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to allocate tensors")
	}

	b := &TFLiteBackend{
		model:       model,
		options:     options,
		interpreter: interpreter,
		inputShape:  tensorShape(interpreter.GetInputTensor(0)),
		outputShape: tensorShape(interpreter.GetOutputTensor(0)),
	}
	logger.Log().Info("tflite backend ready",
		zap.Ints("inputShape", b.inputShape),
		zap.Ints("outputShape", b.outputShape),
		zap.Int("numThreads", numThreads))
	return b, nil
}

func tensorShape(t *tflite.Tensor) []int {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

// Invoke copies the input into the interpreter, runs the graph and copies the
// first output tensor back out.
func (b *TFLiteBackend) Invoke(input iface.Tensor) (iface.Tensor, error) {
	if !input.SameShape(b.inputShape) {
		return iface.Tensor{}, fmt.Errorf("%w: got %v, model expects %v",
			ErrShapeMismatch, input.Shape, b.inputShape)
	}
	in := b.interpreter.GetInputTensor(0)
	dst := in.Float32s()
	if len(dst) != len(input.Data) {
		return iface.Tensor{}, fmt.Errorf("%w: %d input values for a %d-element tensor",
			ErrShapeMismatch, len(input.Data), len(dst))
	}
	copy(dst, input.Data)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return iface.Tensor{}, fmt.Errorf("%w: interpreter status %v", ErrBackendExecution, status)
	}

	out := b.interpreter.GetOutputTensor(0)
	src := out.Float32s()
	data := make([]float32, len(src))
	copy(data, src)
	return iface.Tensor{Data: data, Shape: tensorShape(out)}, nil
}

func (b *TFLiteBackend) InputShape() []int  { return b.inputShape }
func (b *TFLiteBackend) OutputShape() []int { return b.outputShape }

// Close releases the interpreter and model. Not safe to call while an Invoke
// is running.
func (b *TFLiteBackend) Close() error {
	b.interpreter.Delete()
	b.options.Delete()
	b.model.Delete()
	return nil
}
