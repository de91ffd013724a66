// Package stream implements the per-connection cooperative state machine of
// spec.md section 4.6: read a request, write a multipart header, then loop
// producing, pacing, and emitting JPEG parts until the frame source is
// exhausted or the connection fails.
package stream

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/facegrid/ultraface-streamer/internal/detect"
	"github.com/facegrid/ultraface-streamer/internal/engine"
	"github.com/facegrid/ultraface-streamer/internal/frames"
	"github.com/facegrid/ultraface-streamer/internal/pixel"
	"github.com/facegrid/ultraface-streamer/internal/ultraerr"
)

// Inferer is the subset of *engine.InferenceContext a Session needs.
// Narrowing it to an interface keeps the Producing discipline testable
// without a real ONNX Runtime session.
type Inferer interface {
	Dims() (width, height int)
	Infer(batch []engine.FrameInput) ([]detect.Detection, error)
	Close()
}

// state names the six positions of spec.md section 4.6's table, logged
// only when FACE_STREAM_DEBUG is set, mirroring the teacher's DEBUG-gated
// per-request timing log.
type state int

const (
	stateReadingRequest state = iota
	stateWritingHeader
	stateProducing
	statePacing
	stateEmitting
	stateClosing
)

func (st state) String() string {
	switch st {
	case stateReadingRequest:
		return "ReadingRequest"
	case stateWritingHeader:
		return "WritingHeader"
	case stateProducing:
		return "Producing"
	case statePacing:
		return "Pacing"
	case stateEmitting:
		return "Emitting"
	case stateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

var debugEnabled = os.Getenv("FACE_STREAM_DEBUG") == "true"

func logTransition(st state) {
	if debugEnabled {
		log.Printf("[DEBUG] session state -> %s", st)
	}
}

// Boundary is the literal multipart boundary token spec.md section 4.6
// fixes for the default profile.
const Boundary = "frame"

// ServerToken is this repo's equivalent of spec.md section 6's
// "Server: Boost.Beast/<version-string-equivalent>".
const ServerToken = "ultraface-streamer/1"

// JPEGQuality is the fixed encode quality spec.md section 6 specifies.
const JPEGQuality = 95

// DefaultCadence is the target wall-clock interval between parts, spec.md
// section 4.6's "e.g., 35 ms per frame".
const DefaultCadence = 35 * time.Millisecond

// Config carries the per-session parameters Listener supplies when
// constructing a Session, per spec.md section 4.7.
type Config struct {
	BaseDir  string
	Cadence  time.Duration
	Registry *frames.Registry

	// OnFrameEmitted, if set, is called once per image/jpeg part written
	// (not for the end-of-stream terminator), for the /metrics counters
	// internal/server exposes.
	OnFrameEmitted func()
}

// Session is one connection's state, per spec.md section 3: socket,
// request buffer (folded into the bufio.Reader/http.Request), the JPEG
// queue, running-mean stats, and the FrameSource.
type Session struct {
	conn   net.Conn
	ctx    Inferer
	cfg    Config
	source frames.Source

	pending  [][]byte
	stats    runningStats
	pauseFor time.Duration

	keepAlive bool
}

// New constructs a Session bound to conn, ctx, and cfg. The FrameSource is
// resolved later, from the request path, per spec.md section 4.7.
func New(conn net.Conn, ctx Inferer, cfg Config) *Session {
	if cfg.Cadence == 0 {
		cfg.Cadence = DefaultCadence
	}
	return &Session{conn: conn, ctx: ctx, cfg: cfg}
}

// Run drives the session to completion: ReadingRequest, WritingHeader, then
// the Producing/Pacing/Emitting loop until Closing. It never returns an
// error the caller must act on — every failure closes the connection
// locally, per spec.md section 7's NetworkError/RouteNotFound handling.
func (s *Session) Run() {
	defer s.conn.Close()
	defer func() {
		if s.source != nil {
			s.source.Close()
		}
		if s.ctx != nil {
			s.ctx.Close()
		}
	}()

	logTransition(stateReadingRequest)
	reader := bufio.NewReader(s.conn)

	req, err := http.ReadRequest(reader)
	if err != nil {
		return // EOF or malformed request: Closing
	}
	s.keepAlive = !req.Close

	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	parsed := frames.ParseRequestPath(pathAndQuery)

	logTransition(stateWritingHeader)
	if err := s.writeHeader(); err != nil {
		return
	}

	source, err := s.cfg.Registry.Resolve(s.cfg.BaseDir, parsed)
	if err != nil {
		// RouteNotFound: header only, then close, per spec.md section 4.5/6.
		log.Printf("stream: %v", err)
		return
	}
	s.source = source

	for {
		logTransition(stateProducing)
		s.produce()

		logTransition(statePacing)
		s.pace()

		logTransition(stateEmitting)
		closing, err := s.emit()
		if err != nil || closing {
			break
		}
	}
	logTransition(stateClosing)
}

func (s *Session) writeHeader() error {
	header := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"Server: %s\r\n"+
			"Content-Type: multipart/x-mixed-replace; boundary=%s\r\n"+
			"Connection: %s\r\n"+
			"\r\n",
		ServerToken, Boundary, connectionToken(s.keepAlive),
	)
	_, err := s.conn.Write([]byte(header))
	if err != nil {
		return fmt.Errorf("%w: write header: %v", ultraerr.ErrNetwork, err)
	}
	return nil
}

// produce implements the Producing discipline of spec.md section 4.6.
func (s *Session) produce() {
	if len(s.pending) > 0 {
		s.pauseFor = s.cfg.Cadence
		return
	}

	budget := s.cfg.Cadence
	for !s.source.IsFinished() && budget > s.stats.Mean() {
		start := time.Now()
		frame, ok := s.processOneFrame()
		elapsed := time.Since(start)
		s.stats.update(elapsed)
		budget -= elapsed

		if ok {
			s.pending = append(s.pending, frame)
		}
	}

	if s.source.IsFinished() {
		s.pending = append(s.pending, nil) // zero-length end-of-stream sentinel
	}

	s.pauseFor = budget
	if s.pauseFor < 0 {
		s.pauseFor = 0
	}
}

// pace implements the Pacing state. pauseFor is set by produce; kept as a
// field (not threaded through as a return value) because Producing
// sometimes exits with the queue already non-empty and skips the fresh
// budget computation entirely, per spec.md section 4.6 ("skip inference
// and proceed to Pacing with pause = Δ").
func (s *Session) pace() {
	time.Sleep(s.pauseFor)
}

// emit implements the Emitting state of spec.md section 4.6. It returns
// closing=true once the end-of-stream sentinel has been written.
func (s *Session) emit() (closing bool, err error) {
	if len(s.pending) == 0 {
		return false, nil
	}
	frame := s.pending[0]
	s.pending = s.pending[1:]

	if len(frame) == 0 {
		if werr := s.writeTerminator(); werr != nil {
			return true, werr
		}
		return true, nil
	}

	if werr := s.writePart(frame); werr != nil {
		return false, werr
	}
	if s.cfg.OnFrameEmitted != nil {
		s.cfg.OnFrameEmitted()
	}
	return false, nil
}

func (s *Session) writePart(jpeg []byte) error {
	head := fmt.Sprintf(
		"--%s\r\n"+
			"Server: %s\r\n"+
			"Content-Type: image/jpeg\r\n"+
			"Content-Length: %d\r\n"+
			"\r\n",
		Boundary, ServerToken, len(jpeg),
	)
	if _, err := s.conn.Write([]byte(head)); err != nil {
		return fmt.Errorf("%w: write part header: %v", ultraerr.ErrNetwork, err)
	}
	if _, err := s.conn.Write(jpeg); err != nil {
		return fmt.Errorf("%w: write part body: %v", ultraerr.ErrNetwork, err)
	}
	if _, err := s.conn.Write([]byte("\r\n")); err != nil {
		return fmt.Errorf("%w: write part trailer: %v", ultraerr.ErrNetwork, err)
	}
	return nil
}

func connectionToken(keepAlive bool) string {
	if keepAlive {
		return "keep-alive"
	}
	return "close"
}

func (s *Session) writeTerminator() error {
	term := fmt.Sprintf("--%s--\r\n", Boundary)
	if _, err := s.conn.Write([]byte(term)); err != nil {
		return fmt.Errorf("%w: write terminator: %v", ultraerr.ErrNetwork, err)
	}
	return nil
}

// processOneFrame implements decode → resize → preprocess → infer → draw →
// encode, per spec.md section 4.6's "Producing discipline". A missing
// (empty-decode) or failed-inference frame is skipped locally: the loop
// tries the next source frame instead of surfacing an error, per spec.md
// section 7.
func (s *Session) processOneFrame() (jpeg []byte, ok bool) {
	for !s.source.IsFinished() {
		mat, decoded := s.source.ReadNext()
		if !decoded {
			continue // FrameMissing: skip, try next
		}

		width, height := s.ctx.Dims()
		resized := pixel.Resize(mat, width, height)
		raw, stride := pixel.RawBGR(resized)
		resized.Close()

		detections, err := s.ctx.Infer([]engine.FrameInput{{Raw: raw, Stride: stride}})
		if err != nil {
			mat.Close()
			continue // InferenceFailure: skip, try next
		}

		for _, d := range detections {
			pixel.DrawRect(&mat, d.Box)
		}

		encoded, err := pixel.EncodeJPEG(mat, JPEGQuality)
		mat.Close()
		if err != nil {
			continue
		}
		return encoded, true
	}
	return nil, false
}
