package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	iface "LiveDetect/interface"
)

func det(x, y, w, h, conf float32, classID int) iface.Detection {
	return iface.Detection{X: x, Y: y, W: w, H: h, Confidence: conf, ClassID: classID}
}

func TestIoU(t *testing.T) {
	t.Run("Test Identical Boxes", func(t *testing.T) {
		a := det(0.1, 0.1, 0.4, 0.4, 1, 0)
		assert.InDelta(t, 1.0, IoU(a, a), 1e-6)
	})

	t.Run("Test Disjoint Boxes", func(t *testing.T) {
		a := det(0, 0, 0.2, 0.2, 1, 0)
		b := det(0.5, 0.5, 0.2, 0.2, 1, 0)
		assert.Equal(t, float32(0), IoU(a, b))
	})

	t.Run("Test Touching Boxes", func(t *testing.T) {
		a := det(0, 0, 0.5, 0.5, 1, 0)
		b := det(0.5, 0, 0.5, 0.5, 1, 0)
		assert.Equal(t, float32(0), IoU(a, b))
	})

	t.Run("Test Half Overlap", func(t *testing.T) {
		// Intersection 0.125, union 0.375.
		a := det(0, 0, 0.5, 0.5, 1, 0)
		b := det(0.25, 0, 0.5, 0.5, 1, 0)
		assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-6)
		assert.InDelta(t, 1.0/3.0, IoU(b, a), 1e-6)
	})

	t.Run("Test Zero Area", func(t *testing.T) {
		a := det(0.2, 0.2, 0, 0, 1, 0)
		assert.Equal(t, float32(0), IoU(a, a))
	})
}

func TestSuppress(t *testing.T) {
	t.Run("Test Duplicate Box Suppressed", func(t *testing.T) {
		in := []iface.Detection{
			det(0.1, 0.1, 0.3, 0.3, 0.8, 0),
			det(0.1, 0.1, 0.3, 0.3, 0.9, 0),
		}
		out := Suppress(in, 0.4, 10, false)
		if assert.Len(t, out, 1) {
			assert.InDelta(t, 0.9, out[0].Confidence, 1e-6)
		}
	})

	t.Run("Test Disjoint Boxes Kept Ordered", func(t *testing.T) {
		in := []iface.Detection{
			det(0.6, 0.6, 0.2, 0.2, 0.7, 1),
			det(0.1, 0.1, 0.2, 0.2, 0.9, 0),
		}
		out := Suppress(in, 0.4, 10, false)
		if assert.Len(t, out, 2) {
			assert.InDelta(t, 0.9, out[0].Confidence, 1e-6)
			assert.InDelta(t, 0.7, out[1].Confidence, 1e-6)
		}
	})

	t.Run("Test Max Count Cap", func(t *testing.T) {
		in := []iface.Detection{
			det(0.0, 0.0, 0.1, 0.1, 0.9, 0),
			det(0.3, 0.3, 0.1, 0.1, 0.8, 0),
			det(0.6, 0.6, 0.1, 0.1, 0.7, 0),
		}
		out := Suppress(in, 0.4, 2, false)
		assert.Len(t, out, 2)
		assert.InDelta(t, 0.9, out[0].Confidence, 1e-6)
		assert.InDelta(t, 0.8, out[1].Confidence, 1e-6)
	})

	t.Run("Test Stable On Equal Confidence", func(t *testing.T) {
		in := []iface.Detection{
			det(0.0, 0.0, 0.1, 0.1, 0.5, 1),
			det(0.5, 0.5, 0.1, 0.1, 0.5, 2),
			det(0.0, 0.5, 0.1, 0.1, 0.5, 3),
		}
		out := Suppress(in, 0.4, 10, false)
		if assert.Len(t, out, 3) {
			assert.Equal(t, 1, out[0].ClassID)
			assert.Equal(t, 2, out[1].ClassID)
			assert.Equal(t, 3, out[2].ClassID)
		}
	})

	t.Run("Test Class Agnostic Versus Class Aware", func(t *testing.T) {
		in := []iface.Detection{
			det(0.1, 0.1, 0.3, 0.3, 0.9, 0),
			det(0.1, 0.1, 0.3, 0.3, 0.8, 1),
		}
		agnostic := Suppress(in, 0.4, 10, false)
		assert.Len(t, agnostic, 1)

		aware := Suppress(in, 0.4, 10, true)
		assert.Len(t, aware, 2)
	})

	t.Run("Test Pairwise IoU Invariant", func(t *testing.T) {
		in := []iface.Detection{
			det(0.10, 0.10, 0.30, 0.30, 0.95, 0),
			det(0.12, 0.12, 0.30, 0.30, 0.90, 0),
			det(0.15, 0.10, 0.30, 0.30, 0.85, 2),
			det(0.50, 0.50, 0.30, 0.30, 0.80, 1),
			det(0.52, 0.52, 0.30, 0.30, 0.75, 1),
			det(0.05, 0.60, 0.20, 0.20, 0.70, 3),
		}
		iou := float32(0.4)
		out := Suppress(in, iou, 10, false)
		for i := range out {
			for j := i + 1; j < len(out); j++ {
				assert.LessOrEqual(t, IoU(out[i], out[j]), iou)
			}
			if i > 0 {
				assert.GreaterOrEqual(t, out[i-1].Confidence, out[i].Confidence)
			}
		}
	})

	t.Run("Test Empty And Zero Cap", func(t *testing.T) {
		assert.Empty(t, Suppress(nil, 0.4, 10, false))
		in := []iface.Detection{det(0.1, 0.1, 0.3, 0.3, 0.9, 0)}
		assert.Empty(t, Suppress(in, 0.4, 0, false))
	})

	t.Run("Test Input Not Mutated", func(t *testing.T) {
		in := []iface.Detection{
			det(0.1, 0.1, 0.3, 0.3, 0.5, 0),
			det(0.6, 0.6, 0.3, 0.3, 0.9, 1),
		}
		_ = Suppress(in, 0.4, 10, false)
		assert.InDelta(t, 0.5, in[0].Confidence, 1e-6)
		assert.InDelta(t, 0.9, in[1].Confidence, 1e-6)
	})
}
