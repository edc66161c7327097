// Package capture wraps a continuous speech-recognition primitive and turns
// its hypothesis stream into the interim/final transcript events and the two
// timeout classes the turn controller listens for.
package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/logging"
)

// Hypothesis is one best-effort recognition result; hypotheses for the same
// utterance may repeat and extend.
type Hypothesis struct {
	Text       string
	Confidence float64
}

// Recognizer is the underlying continuous-recognition source. Listen opens
// one hypothesis stream for the life of ctx.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan Hypothesis, error)
}

// Config carries the capture tunables. Zero values get defaults.
type Config struct {
	// SilenceTimeout is how long speech must stop before the current
	// hypothesis is finalized.
	SilenceTimeout time.Duration
	// InactivityTimeout fires when no speech begins after a listening
	// window opens; any hypothesis restarts the countdown.
	InactivityTimeout time.Duration
	// MinFinalLen/MinConfidence gate noise out of final transcripts.
	MinFinalLen   int
	MinConfidence float64
	// OnsetGap is the hypothesis gap after which the next hypothesis
	// counts as a new utterance onset.
	OnsetGap time.Duration
}

func (c *Config) applyDefaults() {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 250 * time.Millisecond
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 8 * time.Second
	}
	if c.MinFinalLen <= 0 {
		c.MinFinalLen = 2
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.4
	}
	if c.OnsetGap <= 0 {
		c.OnsetGap = time.Second
	}
}

// Service forwards recognizer hypotheses into the session event loop. The
// recognizer stream runs for the whole call; Start/Stop bracket one
// listening window. Speech onsets are forwarded even outside a window so
// the controller can detect barge-in while speaking.
type Service struct {
	rec  Recognizer
	cfg  Config
	emit func(call.Event)

	mu              sync.Mutex
	running         bool
	active          bool
	epoch           uint64
	lastText        string
	lastConf        float64
	inSpeech        bool
	lastHypAt       time.Time
	silenceTimer    *time.Timer
	inactivityTimer *time.Timer
	wg              sync.WaitGroup
}

func New(rec Recognizer, cfg Config, emit func(call.Event)) *Service {
	cfg.applyDefaults()
	return &Service{rec: rec, cfg: cfg, emit: emit}
}

// Run opens the recognition stream and starts forwarding. Calling Run on a
// running service is a no-op.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.rec == nil {
		s.mu.Unlock()
		return errors.New("no recognizer configured")
	}
	s.running = true
	s.mu.Unlock()

	ch, err := s.rec.Listen(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case hyp, ok := <-ch:
				if !ok {
					if ctx.Err() == nil {
						s.emit(call.CaptureFailed{Err: errors.New("recognition stream closed")})
					}
					return
				}
				s.onHypothesis(hyp)
			}
		}
	}()
	logging.Infow("capture: recognition stream running")
	return nil
}

// Start opens a listening window and returns its epoch. Start while already
// active is a no-op returning the current epoch; concurrent Start/Stop
// calls serialize under the service mutex, last call wins.
func (s *Service) Start() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return s.epoch
	}
	s.active = true
	s.epoch++
	s.lastText = ""
	s.lastConf = 0
	ep := s.epoch
	s.inactivityTimer = time.AfterFunc(s.cfg.InactivityTimeout, func() { s.fireInactivity(ep) })
	logging.Debugw("capture: listening", "epoch", ep)
	return ep
}

// Stop closes the listening window and discards partial state. The
// recognizer keeps running for onset detection.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.lastText = ""
	s.lastConf = 0
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
	}
	logging.Debugw("capture: stopped", "epoch", s.epoch)
}

// Active reports whether a listening window is open.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close waits for the forwarding goroutine; the caller cancels the Run ctx.
func (s *Service) Close() {
	s.Stop()
	s.wg.Wait()
}

func (s *Service) onHypothesis(h Hypothesis) {
	var events []call.Event

	s.mu.Lock()
	now := time.Now()
	if !s.lastHypAt.IsZero() && now.Sub(s.lastHypAt) > s.cfg.OnsetGap {
		s.inSpeech = false
	}
	s.lastHypAt = now
	if !s.inSpeech {
		s.inSpeech = true
		events = append(events, call.SpeechOnset{})
	}
	if s.active {
		s.lastText = h.Text
		s.lastConf = h.Confidence
		if s.inactivityTimer != nil {
			s.inactivityTimer.Reset(s.cfg.InactivityTimeout)
		}
		ep := s.epoch
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
		}
		s.silenceTimer = time.AfterFunc(s.cfg.SilenceTimeout, func() { s.finalize(ep) })
		events = append(events, call.InterimTranscript{Text: h.Text, Epoch: ep})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

// finalize emits the final transcript for a window once speech has stopped
// for the silence timeout. Sub-threshold finals are noise: the window stays
// open and the inactivity countdown re-arms.
func (s *Service) finalize(epoch uint64) {
	var out call.Event

	s.mu.Lock()
	if !s.active || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	text := strings.TrimSpace(s.lastText)
	conf := s.lastConf
	s.lastText = ""
	s.lastConf = 0
	s.inSpeech = false
	if len([]rune(text)) >= s.cfg.MinFinalLen && conf >= s.cfg.MinConfidence {
		out = call.FinalTranscript{Text: text, Confidence: conf, Epoch: epoch}
	} else {
		logging.Debugw("capture: discarding noise final", "chars", len(text), "confidence", conf)
		if s.inactivityTimer != nil {
			s.inactivityTimer.Reset(s.cfg.InactivityTimeout)
		}
	}
	s.mu.Unlock()

	if out != nil {
		s.emit(out)
	}
}

func (s *Service) fireInactivity(epoch uint64) {
	s.mu.Lock()
	if !s.active || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	logging.Debugw("capture: inactivity timeout", "epoch", epoch)
	s.emit(call.InactivityTimeout{Epoch: epoch})
}
