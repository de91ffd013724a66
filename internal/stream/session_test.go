package stream

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/facegrid/ultraface-streamer/internal/detect"
	"github.com/facegrid/ultraface-streamer/internal/engine"
	"github.com/facegrid/ultraface-streamer/internal/frames"
)

func TestRunningStatsIsPlainCumulativeAverage(t *testing.T) {
	var s runningStats
	s.update(10 * time.Millisecond)
	s.update(20 * time.Millisecond)
	s.update(30 * time.Millisecond)
	if got, want := s.Mean(), 20*time.Millisecond; got != want {
		t.Fatalf("Mean() = %v, want %v", got, want)
	}
}

// fakeSource hands out real, tiny gocv Mats so the pixel pipeline (resize,
// draw, encode) exercises actual gocv calls, per spec.md section 8
// scenario 5.
type fakeSource struct {
	frames  int
	emitted int
}

func (f *fakeSource) IsFinished() bool { return f.emitted >= f.frames }

func (f *fakeSource) ReadNext() (gocv.Mat, bool) {
	mat := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	f.emitted++
	return mat, true
}

func (f *fakeSource) Close() {}

// fakeInferer never touches ONNX Runtime, so session logic is testable
// without a GPU or a real model file.
type fakeInferer struct {
	width, height int
}

func (f *fakeInferer) Dims() (int, int) { return f.width, f.height }

func (f *fakeInferer) Infer(batch []engine.FrameInput) ([]detect.Detection, error) {
	return nil, nil
}

func (f *fakeInferer) Close() {}

func TestSessionEndToEndThreeFramesThenTerminator(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	registry := frames.NewRegistry()
	registry.Register("fake", func(baseDir string, segments []string, params map[string]string) (frames.Source, error) {
		return &fakeSource{frames: 3}, nil
	})

	sess := New(serverConn, &fakeInferer{width: 4, height: 4}, Config{
		BaseDir:  "/tmp",
		Cadence:  time.Millisecond,
		Registry: registry,
	})

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	if _, err := fmt.Fprintf(clientConn, "GET /fake HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", statusLine)
	}

	// Drain the header block.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	imageParts := 0
	sawTerminator := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if line == fmt.Sprintf("--%s--\r\n", Boundary) {
			sawTerminator = true
			break
		}
		if line != fmt.Sprintf("--%s\r\n", Boundary) {
			t.Fatalf("expected boundary line, got %q", line)
		}

		var contentLength int
		for {
			hline, herr := reader.ReadString('\n')
			if herr != nil {
				t.Fatalf("read part header: %v", herr)
			}
			if hline == "\r\n" {
				break
			}
			trimmed := strings.TrimRight(hline, "\r\n")
			if v, ok := strings.CutPrefix(trimmed, "Content-Length: "); ok {
				n, cerr := strconv.Atoi(v)
				if cerr != nil {
					t.Fatalf("parse Content-Length %q: %v", v, cerr)
				}
				contentLength = n
			}
		}

		body := make([]byte, contentLength)
		if _, err := readFull(reader, body); err != nil {
			t.Fatalf("read part body: %v", err)
		}
		// consume trailing CRLF after the body
		if _, err := reader.ReadString('\n'); err != nil {
			t.Fatalf("read part trailer: %v", err)
		}
		imageParts++
	}

	<-done

	if imageParts != 3 {
		t.Fatalf("imageParts = %d, want 3", imageParts)
	}
	if !sawTerminator {
		t.Fatalf("did not see terminator part")
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
