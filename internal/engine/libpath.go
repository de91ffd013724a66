package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// LibraryPathEnv overrides the ONNX Runtime shared library location. The
// teacher's embedded.go extracted a go:embed'd .so into a temp dir at
// startup; this repo has no binary asset to embed, so the same "locate the
// vendor runtime's shared library" concern is served instead by an
// environment override plus the per-OS default name GetcharZp-go-vision's
// onnx.go uses (see DESIGN.md).
const LibraryPathEnv = "ONNXRUNTIME_LIB_PATH"

// LocateSharedLibrary returns the ONNX Runtime shared library path:
// LibraryPathEnv if set, otherwise an OS-appropriate default under dataDir.
func LocateSharedLibrary(dataDir string) (string, error) {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p, nil
	}

	name, err := defaultLibraryName()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}

func defaultLibraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("no default onnxruntime library name for GOOS %q", runtime.GOOS)
	}
}
