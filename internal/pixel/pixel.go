// Package pixel wraps gocv (github.com/facegrid/ultraface-streamer's image
// library collaborator, per spec.md section 1) with the four operations
// the rest of the server needs: decode a JPEG file into an H×W×3 BGR
// matrix, resize it, draw a detection rectangle, and encode a JPEG at a
// given quality.
package pixel

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/facegrid/ultraface-streamer/internal/detect"
	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// DetectionColor is cv::Scalar(0,0,255) in BGR — drawn as red, per
// spec.md section 4.6.
var DetectionColor = color.RGBA{R: 255, A: 255}

// DecodeFile reads path as a JPEG into a BGR gocv.Mat. An empty decode
// result (missing or corrupt file) is reported as ultraerr.ErrFrameMissing,
// matching spec.md section 4.5's "decode yields an empty image" case.
func DecodeFile(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s", ultraerr.ErrFrameMissing, path)
	}
	return mat, nil
}

// Resize returns a new Mat scaled to (w, h), per spec.md section 4.3's
// "resized to (W, H)" precondition for InferenceContext.infer.
func Resize(src gocv.Mat, w, h int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return dst
}

// RawBGR returns the raw, row-major, BGR-interleaved bytes backing mat,
// along with its row stride in bytes. Suitable for preprocess.WriteCHW.
func RawBGR(mat gocv.Mat) (raw []byte, stride int) {
	return mat.ToBytes(), mat.Cols() * mat.Channels()
}

// DrawRect draws box (normalized to [0,1] relative to mat's own
// dimensions) onto mat in DetectionColor, per spec.md section 4.6: corners
// are (x0*W, y0*H)-(x1*W, y1*H) on the original, pre-resize frame.
func DrawRect(mat *gocv.Mat, box detect.Box) {
	w, h := float32(mat.Cols()), float32(mat.Rows())
	rect := image.Rect(
		int(box.X0*w), int(box.Y0*h),
		int(box.X1*w), int(box.Y1*h),
	)
	gocv.Rectangle(mat, rect, DetectionColor, 2)
}

// EncodeJPEG encodes mat as a JPEG at the given quality (0-100), per
// spec.md section 6's "body = JPEG bytes at quality 95."
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
