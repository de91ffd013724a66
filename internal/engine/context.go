package engine

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/facegrid/ultraface-streamer/internal/detect"
	"github.com/facegrid/ultraface-streamer/internal/preprocess"
	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// FrameInput is one decoded, already-resized-to-(W,H) BGR frame handed to
// InferenceContext.Infer, per spec.md section 4.3's "batch" precondition.
type FrameInput struct {
	Raw    []byte
	Stride int
}

// InferenceContext owns one BufferManager and the detection parameters
// spec.md section 3 lists, and executes against its owning engine's shared
// session. It is cheap to build and exclusively owned by one StreamSession.
type InferenceContext struct {
	engine *InferenceEngine
	bm     *BufferManager
	params Params

	width  int
	height int
}

func newInferenceContext(e *InferenceEngine, params Params) (*InferenceContext, error) {
	bindings := e.catalog.Bindings()
	dims := make([]Dims, len(bindings))
	for i, b := range bindings {
		dims[i] = b.Dims
	}

	bm, err := NewBufferManager(e.catalog, dims, 0)
	if err != nil {
		return nil, err
	}

	if params.IoUThreshold == 0 {
		params.IoUThreshold = detect.DefaultIoUThreshold
	}

	// input dims are (1, C, H, W) per spec.md section 3.
	height := int(e.inputDims.Extents[2])
	width := int(e.inputDims.Extents[3])

	return &InferenceContext{
		engine: e,
		bm:     bm,
		params: params,
		width:  width,
		height: height,
	}, nil
}

// Dims returns the (width, height) frames must already be resized to
// before Infer, per spec.md section 4.3.
func (c *InferenceContext) Dims() (width, height int) {
	return c.width, c.height
}

// Infer runs the five-step pipeline of spec.md section 4.3 over batch and
// returns the surviving Detections. Failure at any stage is an
// InferenceFailure, recovered locally by the caller (skip frame, continue),
// per spec.md section 7.
func (c *InferenceContext) Infer(batch []FrameInput) ([]detect.Detection, error) {
	inputName := c.engine.inputTensorName
	means := c.params.Means
	norm := c.params.Norm
	if norm == 0 {
		norm = 1
	}

	// Step 1: preprocess into the host input buffer, planar CHW batch-major.
	hostInput := c.bm.HostFloat32(inputName)
	if hostInput == nil {
		return nil, fmt.Errorf("%w: no host buffer for input %q", ultraerr.ErrInferenceFailure, inputName)
	}
	for i, frame := range batch {
		preprocess.WriteCHW(hostInput, i, c.height, c.width, frame.Stride, frame.Raw, means, norm)
	}

	// Step 2: copy host to device.
	c.bm.CopyInputToDevice()

	// Step 3: execute synchronously using the device binding array.
	inputExtents := append([]int64(nil), c.engine.inputDims.Extents...)
	inputExtents[0] = int64(len(batch))
	inputShape := ort.NewShape(inputExtents...)
	inputTensor, err := ort.NewTensor(inputShape, c.bm.DeviceFloat32(inputName))
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %v", ultraerr.ErrInferenceFailure, err)
	}
	defer inputTensor.Destroy()

	bindings := c.engine.catalog.Bindings()
	outputCount := 0
	for _, b := range bindings {
		if !b.IsInput {
			outputCount++
		}
	}
	outputs := make([]ort.Value, outputCount)

	if err := c.engine.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("%w: run: %v", ultraerr.ErrInferenceFailure, err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	// Step 4: copy device to host — here "device" is played by the tensor
	// the vendor runtime just populated; bytes are copied into this
	// context's own device buffer, then to host, preserving the
	// ManagedBufferPair invariant even though the CUDA execution provider
	// (when active) manages real GPU residency internally. See DESIGN.md.
	outIdx := 0
	for i, b := range bindings {
		if b.IsInput {
			continue
		}
		tensor, ok := outputs[outIdx].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("%w: output %q: unexpected tensor type", ultraerr.ErrInferenceFailure, b.Name)
		}
		pair := c.bm.pairAt(i)
		src := tensor.GetData()
		dst := pair.deviceFloat32()
		if len(dst) < len(src) {
			return nil, fmt.Errorf("%w: output %q: buffer too small (%d < %d)", ultraerr.ErrInferenceFailure, b.Name, len(dst), len(src))
		}
		copy(dst, src)
		outIdx++
	}
	c.bm.CopyOutputToHost()

	// Step 5: post-process.
	scores := c.bm.HostFloat32(c.engine.scoresTensorName)
	boxes := c.bm.HostFloat32(c.engine.boxesTensorName)
	if scores == nil || boxes == nil {
		return nil, fmt.Errorf("%w: missing scores or boxes host buffer", ultraerr.ErrInferenceFailure)
	}

	detections := detect.Detect(scores, boxes, detect.Params{
		N:              c.engine.N,
		K:              c.engine.K,
		ClassIndex:     c.params.ClassIndex,
		ScoreThreshold: c.params.ScoreThreshold,
		IoUThreshold:   c.params.IoUThreshold,
	})
	return detections, nil
}

// Close releases resources the context holds. BufferManager's buffers are
// plain Go slices, reclaimed by the garbage collector; Close exists for
// symmetry with the vendor execution-context lifetime spec.md section 9
// describes ("destruction via the session's own scope guarantees release").
func (c *InferenceContext) Close() {}
