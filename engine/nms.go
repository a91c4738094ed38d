package engine

import (
	"sort"

	iface "LiveDetect/interface"
)

// Suppress runs greedy non-maximum suppression: candidates are stably sorted
// by descending confidence, then each kept detection removes every remaining
// one overlapping it with IoU above iouThreshold. The result keeps the sorted
// order and never exceeds maxCount. With classAware set, suppression only
// compares boxes of the same class.
func Suppress(candidates []iface.Detection, iouThreshold float32, maxCount int, classAware bool) iface.DetectionBatch {
	if maxCount <= 0 || len(candidates) == 0 {
		return iface.DetectionBatch{}
	}

	sorted := make([]iface.Detection, len(candidates))
	copy(sorted, candidates)
	// Stable keeps equal-confidence candidates in submission order so the
	// output is deterministic.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make(iface.DetectionBatch, 0, maxCount)
	removed := make([]bool, len(sorted))
	for i := 0; i < len(sorted) && len(kept) < maxCount; i++ {
		if removed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if removed[j] {
				continue
			}
			if classAware && sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if IoU(sorted[i], sorted[j]) > iouThreshold {
				removed[j] = true
			}
		}
	}
	return kept
}

// IoU is the intersection area over union area of two axis-aligned boxes; 0
// when they do not overlap.
func IoU(a, b iface.Detection) float32 {
	ix := overlap(a.X, a.X+a.W, b.X, b.X+b.W)
	iy := overlap(a.Y, a.Y+a.H, b.Y, b.Y+b.H)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func overlap(lo1, hi1, lo2, hi2 float32) float32 {
	lo := lo1
	if lo2 > lo {
		lo = lo2
	}
	hi := hi1
	if hi2 < hi {
		hi = hi2
	}
	return hi - lo
}
