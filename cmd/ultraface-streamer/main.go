// Command ultraface-streamer serves a continuous MJPEG face-detection
// stream per client connection, backed by a shared GPU inference engine
// built once at startup.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/facegrid/ultraface-streamer/internal/config"
	"github.com/facegrid/ultraface-streamer/internal/engine"
	"github.com/facegrid/ultraface-streamer/internal/frames"
	"github.com/facegrid/ultraface-streamer/internal/server"
	"github.com/facegrid/ultraface-streamer/internal/stream"
)

var debugMode = os.Getenv("FACE_STREAM_DEBUG") == "true"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	eng, err := engine.Build(engine.Config{
		DataDir:      cfg.DataDir,
		OnnxFileName: cfg.OnnxFileName,
		InputTensor:  cfg.InputTensor,
		ScoresTensor: cfg.ScoresTensor,
		BoxesTensor:  cfg.BoxesTensor,
		CPUOnly:      cfg.CPUOnly,
	})
	if err != nil {
		log.Printf("engine build failed: %v", err)
		os.Exit(1)
	}
	defer eng.Close()

	if debugMode {
		log.Printf("[DEBUG] engine built: N=%d threads=%d cpu_only=%v", eng.N, cfg.Threads, cfg.CPUOnly)
	}

	listener := &server.Listener{
		Engine: eng,
		Params: engine.Params{
			Means:          cfg.PreprocessMeans,
			Norm:           cfg.PreprocessNorm,
			ClassIndex:     cfg.DetectionClass,
			ScoreThreshold: cfg.DetectionThreshold,
			IoUThreshold:   0.5,
		},
		BaseDir:  cfg.WorkingDir,
		Cadence:  stream.DefaultCadence,
		Registry: frames.NewRegistry(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminAddr := net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port)+1))
	adminSrv := &http.Server{Addr: adminAddr, Handler: listener.AdminMux()}
	go func() {
		log.Printf("admin endpoints on %s", adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port)))
	if err := listener.Run(ctx, addr); err != nil {
		log.Printf("listener: %v", err)
		os.Exit(1)
	}
}
