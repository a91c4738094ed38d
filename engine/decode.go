package engine

import (
	"fmt"

	iface "LiveDetect/interface"
)

// boxFields is the per-row prefix of anchor-encoded output: cx, cy, w, h
// followed by one box-confidence scalar, then the class scores.
const boxFields = 4

// DecodeCandidates interprets raw model output as rows of
// (4 + 1 + numClasses) values. Box parameters are center-format in the
// model's input pixel space; they come back corner-format, normalized by
// inputW/inputH and clamped to [0,1]. Rows below confThreshold and rows
// whose clamped box has no area are dropped here instead of being carried to
// suppression; the surviving set is identical either way.
func DecodeCandidates(out iface.Tensor, numClasses int, confThreshold, inputW, inputH float32) ([]iface.RawCandidate, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: numClasses %d", ErrShapeMismatch, numClasses)
	}
	if inputW <= 0 || inputH <= 0 {
		return nil, fmt.Errorf("%w: input resolution %vx%v", ErrShapeMismatch, inputW, inputH)
	}
	stride := boxFields + 1 + numClasses
	if len(out.Data)%stride != 0 {
		return nil, fmt.Errorf("%w: %d output values do not divide into rows of %d",
			ErrShapeMismatch, len(out.Data), stride)
	}

	numRows := len(out.Data) / stride
	candidates := make([]iface.RawCandidate, 0, numRows)
	for r := 0; r < numRows; r++ {
		row := out.Data[r*stride : (r+1)*stride]
		boxConf := row[boxFields]

		bestClass := 0
		bestScore := row[boxFields+1]
		for c := 1; c < numClasses; c++ {
			if s := row[boxFields+1+c]; s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		conf := boxConf * bestScore
		if conf < confThreshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		x1 := clamp01((cx - w/2) / inputW)
		y1 := clamp01((cy - h/2) / inputH)
		x2 := clamp01((cx + w/2) / inputW)
		y2 := clamp01((cy + h/2) / inputH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		candidates = append(candidates, iface.RawCandidate{
			X1: x1, Y1: y1, X2: x2, Y2: y2,
			Confidence: conf,
			ClassID:    bestClass,
		})
	}
	return candidates, nil
}

// CandidatesToDetections attaches labels and converts corner boxes to the
// x/y/w/h form the downstream layer consumes. Box validity follows from the
// decoder's clamping.
func CandidatesToDetections(candidates []iface.RawCandidate, labels *LabelTable) []iface.Detection {
	detections := make([]iface.Detection, 0, len(candidates))
	for _, c := range candidates {
		detections = append(detections, iface.Detection{
			Label:      labels.Name(c.ClassID),
			Confidence: c.Confidence,
			X:          c.X1,
			Y:          c.Y1,
			W:          c.X2 - c.X1,
			H:          c.Y2 - c.Y1,
			ClassID:    c.ClassID,
		})
	}
	return detections
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
