// Package config parses config.ini and the server's positional CLI form,
// per spec.md section 6.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// Config holds every value the server needs to build its engine, bind its
// listener, and locate frames.
type Config struct {
	Address string
	Port    uint16
	WorkingDir string
	Threads int

	DataDir        string
	OnnxFileName   string
	InputTensor    string
	ScoresTensor   string
	BoxesTensor    string
	PreprocessMeans [3]float32 // BGR
	PreprocessNorm  float32
	DetectionThreshold float32
	NumClasses      int
	DetectionClass  int

	// CPUOnly disables the CUDA execution provider, per SPEC_FULL.md's
	// "MODULE: InferenceEngine / InferenceContext (expanded)" escape hatch.
	CPUOnly bool
}

// Default returns the documented defaults for the bare invocation form.
func Default() *Config {
	return &Config{
		Address:            "0.0.0.0",
		Port:               8080,
		WorkingDir:         "../../data/ultraface/",
		Threads:            16,
		DataDir:            "data/ultraface/",
		OnnxFileName:       "ultraFace-RFB-320.onnx",
		InputTensor:        "input",
		ScoresTensor:       "scores",
		BoxesTensor:        "boxes",
		PreprocessMeans:    [3]float32{127.0, 127.0, 127.0},
		PreprocessNorm:     128.0,
		DetectionThreshold: 0.9,
		NumClasses:         2,
		DetectionClass:     1,
	}
}

// Load reads config.ini-style "KEY VALUE" lines from path, overlaying them
// onto Default(). Unknown keys are ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", ultraerr.ErrConfig, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if err := cfg.applyKey(strings.TrimSpace(key), value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ultraerr.ErrConfig, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ultraerr.ErrConfig, path, err)
	}

	return cfg, nil
}

func (cfg *Config) applyKey(key, value string) error {
	switch key {
	case "ADDRESS":
		if net.ParseIP(value) == nil {
			return fmt.Errorf("ADDRESS %q is not a dotted IP", value)
		}
		cfg.Address = value
	case "PORT":
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", value, err)
		}
		cfg.Port = uint16(port)
	case "WORKING_DIR":
		cfg.WorkingDir = value
	case "THREADS":
		threads, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("THREADS %q: %w", value, err)
		}
		cfg.Threads = threads
	case "DATA_DIR":
		cfg.DataDir = value
	case "ONNX_FILE_NAME":
		cfg.OnnxFileName = value
	case "INPUT_TENSORS":
		cfg.InputTensor = value
	case "OUTPUT_TENSORS":
		fields := strings.Fields(value)
		if len(fields) < 2 {
			return fmt.Errorf("OUTPUT_TENSORS %q needs two names (scores, boxes)", value)
		}
		cfg.ScoresTensor, cfg.BoxesTensor = fields[0], fields[1]
	case "PREPROCESSING_MEANS":
		fields := strings.Fields(value)
		if len(fields) != 3 {
			return fmt.Errorf("PREPROCESSING_MEANS %q needs three floats", value)
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return fmt.Errorf("PREPROCESSING_MEANS %q: %w", value, err)
			}
			cfg.PreprocessMeans[i] = float32(v)
		}
	case "PREPROCESSING_NORM":
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return fmt.Errorf("PREPROCESSING_NORM %q: %w", value, err)
		}
		cfg.PreprocessNorm = float32(v)
	case "DETECTION_THRESHOLD":
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return fmt.Errorf("DETECTION_THRESHOLD %q: %w", value, err)
		}
		if v <= 0 || v >= 1 {
			return fmt.Errorf("DETECTION_THRESHOLD %q must be in (0,1)", value)
		}
		cfg.DetectionThreshold = float32(v)
	case "NUM_CLASSES":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("NUM_CLASSES %q: %w", value, err)
		}
		if v < 2 {
			return fmt.Errorf("NUM_CLASSES %q must be >= 2", value)
		}
		cfg.NumClasses = v
	case "DETECTION_CLASS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("DETECTION_CLASS %q: %w", value, err)
		}
		cfg.DetectionClass = v
	case "CPU_ONLY":
		cfg.CPUOnly = value == "1" || strings.EqualFold(value, "true")
	default:
		// unrecognized keys are ignored per spec.md section 6
	}
	return nil
}

// FromArgs implements both invocation forms of spec.md section 6.
func FromArgs(args []string) (*Config, error) {
	switch len(args) {
	case 0:
		return Load("config.ini")
	case 4:
		cfg, err := Load("config.ini")
		if err != nil {
			return nil, err
		}
		if net.ParseIP(args[0]) == nil {
			return nil, fmt.Errorf("%w: address %q is not a dotted IP", ultraerr.ErrConfig, args[0])
		}
		cfg.Address = args[0]

		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: port %q: %v", ultraerr.ErrConfig, args[1], err)
		}
		cfg.Port = uint16(port)

		cfg.WorkingDir = args[2]

		threads, err := strconv.Atoi(args[3])
		if err != nil {
			return nil, fmt.Errorf("%w: threads %q: %v", ultraerr.ErrConfig, args[3], err)
		}
		if threads < 1 {
			threads = 1
		}
		cfg.Threads = threads

		return cfg, nil
	default:
		return nil, fmt.Errorf("%w: usage: ultraface-streamer [<address> <port> <working_dir> <threads>]", ultraerr.ErrConfig)
	}
}
