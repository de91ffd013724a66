// Package server implements the accept loop of spec.md section 4.7 and the
// ambient /healthz and /metrics endpoints SPEC_FULL.md adds.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sys/unix"

	"github.com/facegrid/ultraface-streamer/internal/engine"
	"github.com/facegrid/ultraface-streamer/internal/frames"
	"github.com/facegrid/ultraface-streamer/internal/stream"
)

// Listener opens an acceptor on (address, port), sets address reuse, and
// spawns a StreamSession per accepted connection, per spec.md section 4.7.
type Listener struct {
	Engine   *engine.InferenceEngine
	Params   engine.Params
	BaseDir  string
	Cadence  time.Duration
	Registry *frames.Registry

	metrics Metrics
}

// listenConfig sets SO_REUSEADDR on the listening socket via
// net.ListenConfig.Control, the literal Go equivalent of spec.md section
// 4.7's "sets address reuse" (Boost.Asio's reuse_address(true)).
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}

// Run opens the acceptor at addr and blocks accepting connections until
// ctx is canceled or the listener fails to bind. Acceptor failures on
// individual Accept calls are logged and the loop continues, per spec.md
// section 4.7.
func (l *Listener) Run(ctx context.Context, addr string) error {
	ln, err := listenConfig().Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Printf("accept: %v", err)
			continue
		}
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	ictx, err := l.Engine.GetInferenceContext(l.Params)
	if err != nil {
		log.Printf("get inference context: %v", err)
		conn.Close()
		return
	}

	l.metrics.sessionStarted()
	defer l.metrics.sessionEnded()

	sess := stream.New(conn, ictx, stream.Config{
		BaseDir:        l.BaseDir,
		Cadence:        l.Cadence,
		Registry:       l.Registry,
		OnFrameEmitted: l.metrics.frameEmitted,
	})
	sess.Run()
}

// AdminMux returns the gorilla/mux router serving GET /healthz and
// GET /metrics — the ambient ops surface SPEC_FULL.md adds. It is
// deliberately not used for the MJPEG routes: those need raw connection
// control mux's request/response model doesn't give them.
func (l *Listener) AdminMux() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", l.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", l.handleMetrics).Methods(http.MethodGet)
	return r
}

func (l *Listener) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"model_loaded": l.Engine != nil,
	})
}

func (l *Listener) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(l.metrics.Snapshot())
}
