package engine

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	iface "LiveDetect/interface"
)

// Preprocess resamples an RGB frame to targetW x targetH with bilinear
// interpolation and returns a channel-last float32 tensor of shape
// [1 targetH targetW 3]. Channel values are scaled to [0,1]; with normalize
// set they are further mapped to [-1,1] via (v-0.5)/0.5. Pure function, no
// shared state.
func Preprocess(frame iface.Frame, targetW, targetH int, normalize bool) (iface.Tensor, error) {
	if frame.Empty() {
		return iface.Tensor{}, fmt.Errorf("%w: %dx%d frame with %d data bytes",
			ErrInvalidFrame, frame.Width, frame.Height, len(frame.Data))
	}
	if frame.Channels != 3 && frame.Channels != 4 {
		return iface.Tensor{}, fmt.Errorf("%w: unsupported channel count %d",
			ErrInvalidFrame, frame.Channels)
	}
	if len(frame.Data) < frame.Width*frame.Height*frame.Channels {
		return iface.Tensor{}, fmt.Errorf("%w: %d data bytes for %dx%dx%d frame",
			ErrInvalidFrame, len(frame.Data), frame.Width, frame.Height, frame.Channels)
	}
	if targetW <= 0 || targetH <= 0 {
		return iface.Tensor{}, fmt.Errorf("%w: target size %dx%d",
			ErrInvalidFrame, targetW, targetH)
	}

	resized := resize.Resize(uint(targetW), uint(targetH), frameImage(frame), resize.Bilinear)

	data := make([]float32, targetW*targetH*3)
	i := 0
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = scaleChannel(r, normalize)
			data[i+1] = scaleChannel(g, normalize)
			data[i+2] = scaleChannel(b, normalize)
			i += 3
		}
	}
	return iface.Tensor{Data: data, Shape: []int{1, targetH, targetW, 3}}, nil
}

func scaleChannel(v uint32, normalize bool) float32 {
	f := float32(v>>8) / 255.0
	if normalize {
		f = (f - 0.5) / 0.5
	}
	return f
}

// frameImage wraps the frame's interleaved bytes in an image.RGBA without
// copying row layout assumptions anywhere else.
func frameImage(frame iface.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * frame.Channels
			dst := img.PixOffset(x, y)
			img.Pix[dst] = frame.Data[src]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	return img
}
