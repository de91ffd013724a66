// Package ultraerr names the error kinds the streaming server distinguishes
// so callers can decide, per spec.md section 7, whether to terminate the
// process, drop a session, or skip a single frame.
package ultraerr

import "errors"

var (
	// ErrConfig marks a bad CLI argument or config.ini value. Fatal to the process.
	ErrConfig = errors.New("config error")

	// ErrEngineBuild marks a failure while parsing the ONNX file or building
	// the inference engine. Fatal to the process.
	ErrEngineBuild = errors.New("engine build error")

	// ErrContextCreate marks a refusal by the vendor runtime to create a
	// fresh execution context. Fatal to the one connection requesting it.
	ErrContextCreate = errors.New("context create error")

	// ErrAllocation marks a host or device buffer allocation failure.
	// Fatal to the owning session.
	ErrAllocation = errors.New("allocation error")

	// ErrFrameMissing marks a frame decode that returned an empty image.
	// Recovered locally: the session skips the frame and continues.
	ErrFrameMissing = errors.New("frame missing")

	// ErrInferenceFailure marks a failed synchronous execution call.
	// Recovered locally: the session skips the frame and continues.
	ErrInferenceFailure = errors.New("inference failure")

	// ErrNetwork marks a socket read or write failure. The session closes silently.
	ErrNetwork = errors.New("network error")

	// ErrRouteNotFound marks a request whose source type has no registered factory.
	// The session writes the header only, then closes.
	ErrRouteNotFound = errors.New("route not found")
)

// Fatal reports whether err should terminate the owning session (as opposed
// to being recovered locally and the session continuing to the next frame).
func Fatal(err error) bool {
	switch {
	case errors.Is(err, ErrFrameMissing), errors.Is(err, ErrInferenceFailure):
		return false
	default:
		return err != nil
	}
}
