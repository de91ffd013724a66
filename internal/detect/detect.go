// Package detect implements the score-threshold and greedy
// non-maximum-suppression post-processing described in spec.md section 4.4.
package detect

import "sort"

// Box is a normalized bounding box (x0, y0, x1, y1) in [0,1] relative to the
// original, pre-resize frame.
type Box struct {
	X0, Y0, X1, Y1 float32
}

// Area returns (x1-x0)*(y1-y0). A non-positive area marks an invalid box.
func (b Box) Area() float32 {
	return (b.X1 - b.X0) * (b.Y1 - b.Y0)
}

// Valid reports whether the box has a positive area, per spec.md section 3.
func (b Box) Valid() bool {
	return b.Area() > 0
}

// Detection pairs a confidence score in [0,1] with its box.
type Detection struct {
	Score float32
	Box   Box
}

// Params carries the tunables InferenceContext.infer needs to turn raw
// score/box tensors into a list of Detections, per spec.md section 3.
type Params struct {
	// N is the anchor prior count.
	N int
	// K is the class count.
	K int
	// ClassIndex is the target class index k*.
	ClassIndex int
	// ScoreThreshold is tau.
	ScoreThreshold float32
	// IoUThreshold is theta, spec.md fixes this at 0.5.
	IoUThreshold float32
}

// DefaultIoUThreshold is theta from spec.md section 3.
const DefaultIoUThreshold float32 = 0.5

// candidate augments a Detection with an insertion index so NMS tie-breaks
// deterministically by insertion order, per spec.md section 4.4.
type candidate struct {
	Detection
	order int
}

// Threshold performs the threshold pass of spec.md section 4.4: scores is
// [N,K] row-major, boxes is [N,4] row-major. It returns every anchor whose
// score at ClassIndex exceeds ScoreThreshold, in anchor order.
func Threshold(scores, boxes []float32, p Params) []Detection {
	var out []Detection
	for i := 0; i < p.N; i++ {
		s := scores[i*p.K+p.ClassIndex]
		if s > p.ScoreThreshold {
			b := boxes[i*4 : i*4+4]
			out = append(out, Detection{
				Score: s,
				Box:   Box{X0: b[0], Y0: b[1], X1: b[2], Y1: b[3]},
			})
		}
	}
	return out
}

// IoU computes intersection-over-union for two boxes, clamping negative
// extents to zero so disjoint boxes never produce a spurious match — the
// original source's intersection-area computation does not clamp, which
// spec.md section 9's Open Question calls out as a defect, not intent.
func IoU(a, b Box) float32 {
	ix0 := max32(a.X0, b.X0)
	iy0 := max32(a.Y0, b.Y0)
	ix1 := min32(a.X1, b.X1)
	iy1 := min32(a.Y1, b.Y1)

	iw := max32(0, ix1-ix0)
	ih := max32(0, iy1-iy0)
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// NMS runs greedy non-maximum suppression over candidates, ordered by
// descending score with ties broken by insertion order, discarding every
// remaining candidate whose IoU with the just-kept box exceeds
// iouThreshold. Never fails; may return an empty slice.
func NMS(candidates []Detection, iouThreshold float32) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]candidate, len(candidates))
	for i, d := range candidates {
		ordered[i] = candidate{Detection: d, order: i}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	result := make([]Detection, 0, len(ordered))
	kept := make([]bool, len(ordered))
	discarded := make([]bool, len(ordered))

	for i := range ordered {
		if discarded[i] {
			continue
		}
		proposal := ordered[i]
		kept[i] = true
		result = append(result, proposal.Detection)

		for j := i + 1; j < len(ordered); j++ {
			if discarded[j] {
				continue
			}
			if IoU(proposal.Box, ordered[j].Box) > iouThreshold {
				discarded[j] = true
			}
		}
	}

	return result
}

// Detect runs the full pipeline: threshold then NMS, per spec.md section 4.4.
func Detect(scores, boxes []float32, p Params) []Detection {
	iou := p.IoUThreshold
	if iou == 0 {
		iou = DefaultIoUThreshold
	}
	candidates := Threshold(scores, boxes, p)
	return NMS(candidates, iou)
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
