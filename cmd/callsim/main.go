package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/capture"
	"github.com/call-voice-lab/internal/control"
	"github.com/call-voice-lab/internal/logging"
	"github.com/call-voice-lab/internal/playback"
	"github.com/call-voice-lab/internal/policy"
	"github.com/call-voice-lab/internal/record"
	"github.com/call-voice-lab/internal/score"
	"github.com/call-voice-lab/internal/sim"
	"github.com/call-voice-lab/internal/synth"
)

const version = "v0.1.0"

func main() {
	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}

	cfg := call.ConfigFromEnv()

	// Simulated input side. With no script the call is driven entirely by
	// submit_text over MCP; with no WAV the mic records silence.
	device := &sim.Device{WavPath: os.Getenv("MIC_WAV")}
	var recognizer capture.Recognizer
	if script := os.Getenv("SCRIPT_PATH"); script != "" {
		recognizer = &sim.Recognizer{ScriptPath: script}
	}

	graph := record.NewGraph(device)

	// Session and components reference each other, so events are routed
	// through a late-bound pointer set before the first component runs.
	var session *call.Session
	emit := func(ev call.Event) {
		if session != nil {
			session.HandleEvent(ev)
		}
	}

	capSvc := capture.New(recognizer, capture.Config{
		SilenceTimeout:    cfg.SilenceTimeout,
		InactivityTimeout: cfg.InactivityTimeout,
		MinFinalLen:       cfg.MinFinalLen,
		MinConfidence:     cfg.MinConfidence,
	}, emit)

	sink := &playback.PacedSink{Tap: graph.PushAgent}
	queue := playback.New(synth.NewClientFromEnv(), sink, emit)

	session = call.NewSession(cfg, call.Deps{
		Policy:   policy.NewClientFromEnv(),
		Capture:  capSvc,
		Playback: queue,
		Recorder: graph,
		Scorer:   score.NewClientFromEnv(),
	})

	bridge := control.NewBridge()
	session.Subscribe(bridge.Notify)
	tools := control.NewServer(session, version)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/events/ws", bridge.HandleWS)
	mux.HandleFunc("/mcp/ws", tools.HandleWS)

	port := os.Getenv("PORT")
	if port == "" {
		port = "9000"
	}
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		sugar.Infow("callsim listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	session.EndCall()
	session.Close()
	queue.Close()
	capSvc.Close()
	bridge.Close()
	_ = srv.Close()

	_ = logging.Sync()
	sugar.Info("shutdown complete")
}
