package iface

// Frame is one camera image. The pipeline borrows it read-only for the
// duration of a single detect call and never mutates it.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// Empty reports whether the frame has no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Tensor is a flat numeric buffer with an explicit shape, e.g. [1 320 320 3]
// for input or [1 6300 85] for raw model output.
type Tensor struct {
	Data  []float32
	Shape []int
}

// ElemCount returns the number of elements the shape describes.
func (t Tensor) ElemCount() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// SameShape reports whether the tensor's shape equals other.
func (t Tensor) SameShape(other []int) bool {
	if len(t.Shape) != len(other) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other[i] {
			return false
		}
	}
	return true
}

// RawCandidate is one decoded model-output row: a corner-format box in
// normalized [0,1] coordinates plus the combined confidence and best class.
type RawCandidate struct {
	X1, Y1     float32
	X2, Y2     float32
	Confidence float32
	ClassID    int
}

// Detection is one labeled object. X/Y is the top-left corner, all four box
// values are normalized to [0,1] and x+w, y+h never exceed 1.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	W          float32 `json:"w"`
	H          float32 `json:"h"`
	ClassID    int     `json:"classId"`
}

// DetectionBatch is the result of one pipeline run, ordered by descending
// confidence, capped at the configured maximum.
type DetectionBatch []Detection
