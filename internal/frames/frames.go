// Package frames implements the pluggable frame source of spec.md section
// 3/4.5: a finite, non-restartable sequence of decoded images, with a
// default filesystem implementation and a type-tag → factory routing map.
package frames

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/facegrid/ultraface-streamer/internal/pixel"
	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// Source is a finite, non-restartable sequence of frames, per spec.md
// section 3.
type Source interface {
	// IsFinished reports whether the cursor has passed the last frame.
	IsFinished() bool
	// ReadNext decodes the current frame, advances the cursor, and
	// returns it. An empty-decode ("missing") frame is signaled by ok
	// being false; the caller skips it and continues.
	ReadNext() (mat gocv.Mat, ok bool)
	// Close releases any resources the source holds.
	Close()
}

// DefaultExtension is the query-parameter default per spec.md section 4.5.
const DefaultExtension = ".jpg"

// filesystemSource is the default FrameSource: a sorted, non-recursive
// snapshot of files matching extension directly under dir, grounded in
// original_source's files_iterator.cpp (boost::filesystem::directory_iterator,
// not recursive_directory_iterator).
type filesystemSource struct {
	paths   []string
	current int
}

// NewFilesystemSource enumerates regular files directly under dir whose
// extension equals ext, sorts them lexicographically, and positions the
// cursor at the first, per spec.md section 4.5.
func NewFilesystemSource(dir, ext string) (Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %v", ultraerr.ErrRouteNotFound, dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ext {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	return &filesystemSource{paths: paths}, nil
}

func (s *filesystemSource) IsFinished() bool {
	return s.current >= len(s.paths)
}

func (s *filesystemSource) ReadNext() (gocv.Mat, bool) {
	path := s.paths[s.current]
	// move_next has no return expression in the original source; treated
	// as a void advance per spec.md section 9, regardless of decode outcome.
	s.current++

	mat, err := pixel.DecodeFile(path)
	if err != nil {
		return gocv.NewMat(), false
	}
	return mat, true
}

func (s *filesystemSource) Close() {}

// Factory builds a Source given the server's configured base directory,
// the request's path segments (after the source type), and its query
// parameters.
type Factory func(baseDir string, segments []string, params map[string]string) (Source, error)

// Registry is the type-tag → factory routing map of spec.md section 4.5.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry with the default "filesystem" tag
// registered, per spec.md section 4.5.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("filesystem", filesystemFactory)
	return r
}

// Register adds or replaces the factory for tag.
func (r *Registry) Register(tag string, f Factory) {
	r.factories[tag] = f
}

// Resolve builds a Source for req against baseDir. An unregistered source
// type is a RouteNotFound error, per spec.md section 4.5/6.
func (r *Registry) Resolve(baseDir string, req Request) (Source, error) {
	factory, ok := r.factories[req.SourceType]
	if !ok {
		return nil, fmt.Errorf("%w: source type %q", ultraerr.ErrRouteNotFound, req.SourceType)
	}
	return factory(baseDir, req.Segments, req.Params)
}

func filesystemFactory(baseDir string, segments []string, params map[string]string) (Source, error) {
	ext := params["ext"]
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Join(append([]string{baseDir}, segments...)...)
	return NewFilesystemSource(dir, ext)
}
