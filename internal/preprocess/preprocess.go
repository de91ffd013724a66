// Package preprocess implements the pixel-normalization formula of
// spec.md section 4.3, kept free of any image-library dependency so the
// arithmetic itself is independently testable against the boundary values
// spec.md section 8 pins down.
package preprocess

// WriteCHW writes one BGR-interleaved image (raw, row-major, stride bytes
// per row, 3 bytes per pixel) into dst at batch offset batchIndex, in
// planar CHW layout: dst[i*(C*H*W) + c*(H*W) + y*W + x]. dst must already
// be sized for the full batch.
//
// This is the per-channel, per-pixel loop of spec.md section 4.3 step 1:
//
//	dst[...] = (raw[c] - means[c]) / norm
func WriteCHW(dst []float32, batchIndex, h, w, stride int, raw []byte, means [3]float32, norm float32) {
	volImg := 3 * h * w
	volChl := h * w
	base := batchIndex * volImg

	for c := 0; c < 3; c++ {
		mean := means[c]
		chBase := base + c*volChl
		for y := 0; y < h; y++ {
			rowOff := y * stride
			outRowOff := chBase + y*w
			for x := 0; x < w; x++ {
				pixel := raw[rowOff+x*3+c]
				dst[outRowOff+x] = (float32(pixel) - mean) / norm
			}
		}
	}
}
