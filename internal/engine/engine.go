// Package engine builds the shared ONNX Runtime session once at startup and
// hands out cheap, per-session InferenceContexts against it, per spec.md
// section 4.2.
package engine

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// contextRetries and contextRetryDelay bound InferenceEngine.GetInferenceContext's
// mutex-guarded retry against transient allocation contention, adapted from
// the teacher's ModelSessionPool backoff idiom (see DESIGN.md).
const (
	contextRetries    = 3
	contextRetryDelay = 20 * time.Millisecond
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes the ONNX Runtime environment exactly once
// per process, mirroring the teacher's main.go (SetSharedLibraryPath +
// InitializeEnvironment guarded, there, by running only once in main).
func initEnvironment(dataDir string) error {
	envOnce.Do(func() {
		libPath, err := LocateSharedLibrary(dataDir)
		if err != nil {
			envErr = err
			return
		}
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Config carries everything InferenceEngine.Build needs to locate the ONNX
// file and interpret its tensors, per spec.md section 6's config.ini keys.
type Config struct {
	DataDir      string
	OnnxFileName string

	InputTensor  string
	ScoresTensor string
	BoxesTensor  string

	CPUOnly bool

	InputWidth  int
	InputHeight int
}

// InferenceEngine holds the shared, immutable-after-build GPU engine and the
// BindingCatalog derived from it, per spec.md section 3.
type InferenceEngine struct {
	mu sync.Mutex

	session *ort.DynamicAdvancedSession
	catalog *BindingCatalog

	inputDims  Dims
	scoresDims Dims
	boxesDims  Dims

	// N and K are cached from the scores tensor's shape, per spec.md
	// section 4.2: N = scoresDims[1], K = scoresDims[2].
	N int
	K int

	inputTensorName  string
	scoresTensorName string
	boxesTensorName  string
}

// Build locates the ONNX file under cfg.DataDir, queries its I/O metadata,
// asserts the shape spec.md section 4.2 requires, applies the CUDA
// execution provider unless cfg.CPUOnly, and constructs the shared session.
// Any failure is an EngineBuildError, fatal to the process per spec.md
// section 7.
func Build(cfg Config) (*InferenceEngine, error) {
	if err := initEnvironment(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime environment: %v", ultraerr.ErrEngineBuild, err)
	}

	onnxPath := filepath.Join(cfg.DataDir, cfg.OnnxFileName)

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ultraerr.ErrEngineBuild, onnxPath, err)
	}

	// Post-conditions asserted by spec.md section 4.2: exactly 1 input,
	// input rank 4, exactly 4 output bindings total (score + box + any
	// auxiliaries the ONNX export carries).
	if len(inputInfo) != 1 {
		return nil, fmt.Errorf("%w: expected exactly 1 input binding, got %d", ultraerr.ErrEngineBuild, len(inputInfo))
	}
	if len(inputInfo[0].Dimensions) != 4 {
		return nil, fmt.Errorf("%w: input rank %d, want 4", ultraerr.ErrEngineBuild, len(inputInfo[0].Dimensions))
	}
	if len(outputInfo) != 4 {
		return nil, fmt.Errorf("%w: expected exactly 4 output bindings, got %d", ultraerr.ErrEngineBuild, len(outputInfo))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ultraerr.ErrEngineBuild, err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: set intra-op threads: %v", ultraerr.ErrEngineBuild, err)
	}
	if err := options.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: set inter-op threads: %v", ultraerr.ErrEngineBuild, err)
	}

	if !cfg.CPUOnly {
		cudaOptions, cerr := ort.NewCUDAProviderOptions()
		if cerr != nil {
			return nil, fmt.Errorf("%w: cuda provider options: %v", ultraerr.ErrEngineBuild, cerr)
		}
		aerr := options.AppendExecutionProviderCUDA(cudaOptions)
		cudaOptions.Destroy()
		if aerr != nil {
			return nil, fmt.Errorf("%w: append cuda provider: %v", ultraerr.ErrEngineBuild, aerr)
		}
	}

	inputNames := []string{cfg.InputTensor}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("%w: session create: %v", ultraerr.ErrEngineBuild, err)
	}

	bindings := make([]BindingInfo, 0, 1+len(outputInfo))
	inputDims := dimsFromInfo(inputInfo[0].Dimensions)
	bindings = append(bindings, BindingInfo{
		Name:                 cfg.InputTensor,
		DType:                DTypeF32,
		Dims:                 inputDims,
		VectorizedDim:        -1,
		ComponentsPerElement: 1,
		IsInput:              true,
	})

	var scoresDims, boxesDims Dims
	for _, info := range outputInfo {
		dims := dimsFromInfo(info.Dimensions)
		bindings = append(bindings, BindingInfo{
			Name:                 info.Name,
			DType:                DTypeF32,
			Dims:                 dims,
			VectorizedDim:        -1,
			ComponentsPerElement: 1,
			IsInput:              false,
		})
		switch info.Name {
		case cfg.ScoresTensor:
			scoresDims = dims
		case cfg.BoxesTensor:
			boxesDims = dims
		}
	}

	if scoresDims.Rank() < 3 {
		session.Destroy()
		return nil, fmt.Errorf("%w: scores tensor %q not found or rank < 3", ultraerr.ErrEngineBuild, cfg.ScoresTensor)
	}
	if boxesDims.Rank() < 2 {
		session.Destroy()
		return nil, fmt.Errorf("%w: boxes tensor %q not found or rank < 2", ultraerr.ErrEngineBuild, cfg.BoxesTensor)
	}

	return &InferenceEngine{
		session:          session,
		catalog:          NewBindingCatalog(bindings),
		inputDims:        inputDims,
		scoresDims:       scoresDims,
		boxesDims:        boxesDims,
		N:                int(scoresDims.Extents[1]),
		K:                int(scoresDims.Extents[2]),
		inputTensorName:  cfg.InputTensor,
		scoresTensorName: cfg.ScoresTensor,
		boxesTensorName:  cfg.BoxesTensor,
	}, nil
}

func dimsFromInfo(extents []int64) Dims {
	out := make([]int64, len(extents))
	copy(out, extents)
	return Dims{Extents: out}
}

// Catalog returns the engine's shared, immutable BindingCatalog.
func (e *InferenceEngine) Catalog() *BindingCatalog {
	return e.catalog
}

// GetInferenceContext produces a freshly allocated InferenceContext bound
// to the shared session, serialized by a mutex per spec.md section 4.2
// (execution-context creation is not guaranteed reentrant in the vendor
// runtime this repo binds to). A bounded retry absorbs transient
// allocation contention before surfacing ContextCreateError.
func (e *InferenceEngine) GetInferenceContext(params Params) (*InferenceContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < contextRetries; attempt++ {
		ctx, err := newInferenceContext(e, params)
		if err == nil {
			return ctx, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * contextRetryDelay)
	}
	return nil, fmt.Errorf("%w: %v", ultraerr.ErrContextCreate, lastErr)
}

// Params carries the per-session detection tunables spec.md section 3 lists
// for InferenceContext, everything except N and K (cached by the engine at
// build time) and input dims (also cached by the engine).
type Params struct {
	Means          [3]float32
	Norm           float32
	ClassIndex     int
	ScoreThreshold float32
	IoUThreshold   float32
}

// Close releases the shared session. Call once, at process shutdown.
func (e *InferenceEngine) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
}
