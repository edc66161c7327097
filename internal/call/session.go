package call

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/call-voice-lab/internal/logging"
	"github.com/google/uuid"
)

// Deps are the collaborators a session drives. Policy and the three audio
// components are required; Scorer is optional.
type Deps struct {
	Policy   DialoguePolicy
	Capture  CaptureService
	Playback PlaybackQueue
	Recorder RecordingGraph
	Scorer   Scorer
}

// Session owns one simulated call end to end: the ordered turn list, the
// turn-controller state machine, and the exclusive right to set up and tear
// down the capture service, playback queue and recording graph.
//
// All state transitions run on a single event-loop goroutine; components
// and API methods communicate with it only by posting events, so a late
// transcript can never race a concurrently firing timeout.
type Session struct {
	ID   string
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events chan Event

	mu          sync.Mutex
	cfg         Config
	state       State
	turns       []*Turn
	subscribers []func(Notification)

	// loop-owned; never touched outside the run goroutine
	nextTurnID     int64
	silentTurns    int
	ending         bool
	policyFails    int
	listenEpoch    uint64
	speakingTurnID int64
	endAfterSpeak  bool
	gen            uint64
	assembled      bool
}

// NewSession creates a session. A zero-value config leaves the session in
// StateIdle until Configure is called; otherwise it starts in
// StateConfiguring, ready for Start.
func NewSession(cfg Config, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.NewString(),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 128),
		state:  StateIdle,
	}
	if cfg.AgentName != "" || cfg.ProductName != "" {
		cfg.ApplyDefaults()
		s.cfg = cfg
		s.state = StateConfiguring
	}
	s.wg.Add(1)
	go s.run()
	logging.Infow("session: created", append(logging.SessionFields(s.ID), "state", s.state.String())...)
	return s
}

// Configure replaces the session configuration. Valid while the session has
// not started yet.
func (s *Session) Configure(cfg Config) { s.post(cmdConfigure{cfg: cfg}) }

// Start validates the configuration and begins the call. With missing
// required configuration the session stays in StateConfiguring and a
// validation error event is emitted.
func (s *Session) Start() { s.post(cmdStart{}) }

// SubmitUserText is the manual override of capture: the text is treated as
// a final user transcript. During SPEAKING it acts as a barge-in.
func (s *Session) SubmitUserText(text string) { s.post(cmdSubmitText{text: text}) }

// EndCall ends the call from any state, tearing down capture, playback and
// the recording graph, then stitching a fallback recording if the live one
// is empty.
func (s *Session) EndCall() { s.post(cmdEnd{}) }

// Reset abandons the current call (including from StateError) and returns
// to StateConfiguring with fresh session state.
func (s *Session) Reset() { s.post(cmdReset{}) }

// HandleEvent feeds a component event into the session loop. A full queue
// drops the event rather than blocking audio-side goroutines.
func (s *Session) HandleEvent(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	default:
		logging.Warnw("session: dropping event; queue full", append(logging.SessionFields(s.ID), "event", ev.eventName())...)
	}
}

// post enqueues a control command, blocking the caller (never the loop)
// until there is room.
func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// Subscribe registers a notification callback. Callbacks run on the session
// loop goroutine and must not block.
func (s *Session) Subscribe(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// State returns the current turn-controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a snapshot of the ordered turn list.
func (s *Session) Turns() []TurnSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnSnapshot, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, t.snapshot())
	}
	return out
}

// Close stops the event loop and waits for in-flight background work.
// Callers should EndCall first; Close does not run teardown.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev Event) {
	switch e := ev.(type) {
	case cmdConfigure:
		s.onConfigure(e.cfg)
	case cmdStart:
		s.onStart()
	case cmdSubmitText:
		s.onSubmitText(e.text)
	case cmdEnd:
		s.finishCall()
	case cmdReset:
		s.onReset()
	case policyResult:
		s.onPolicyResult(e)
	case graphResult:
		s.onGraphResult(e)
	case SpeechOnset:
		s.onSpeechOnset()
	case InterimTranscript:
		s.onInterim(e)
	case FinalTranscript:
		s.onFinal(e)
	case InactivityTimeout:
		s.onInactivity(e)
	case CaptureFailed:
		s.onCaptureFailed(e)
	case SynthesisDone:
		s.onSynthesisDone(e)
	case SynthesisFailed:
		s.onSynthesisFailed(e)
	case PlaybackStarted:
		s.onPlaybackStarted(e)
	case PlaybackEnded:
		s.onPlaybackEnded(e)
	case WordCursor:
		s.onWordCursor(e)
	default:
		logging.Debugw("session: unhandled event", "event", ev.eventName())
	}
}

// setState records a transition and notifies subscribers.
func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	logging.Infow("session: state change", append(logging.SessionFields(s.ID), "from", from.String(), "to", to.String())...)
	s.emit(Notification{Kind: NotifyStateChanged, State: to.String(), PrevState: from.String()})
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// appendTurn creates the next turn in strict creation order. Only the loop
// goroutine calls this, so ids always increase regardless of how slowly
// background synthesis for earlier turns completes.
func (s *Session) appendTurn(speaker Speaker, text string, isError, isSilent bool) *Turn {
	s.mu.Lock()
	s.nextTurnID++
	t := &Turn{
		ID:        s.nextTurnID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now().UTC(),
		IsError:   isError,
		IsSilent:  isSilent,
	}
	s.turns = append(s.turns, t)
	snap := t.snapshot()
	s.mu.Unlock()
	logging.Infow("session: turn appended", append(logging.TurnFields(s.ID, t.ID), "speaker", speaker.String(), "chars", len(text))...)
	s.emit(Notification{Kind: NotifyTurnAppended, Turn: &snap})
	return t
}

func (s *Session) findTurn(id int64) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Session) emit(n Notification) {
	n.SessionID = s.ID
	s.mu.Lock()
	subs := make([]func(Notification), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(n)
	}
}

func (s *Session) emitError(kind ErrorKind, err error) {
	ce := &CallError{Kind: kind, Err: err}
	logging.Warnw("session: error", append(logging.SessionFields(s.ID), "kind", kind.String(), "err", err)...)
	s.emit(Notification{Kind: NotifyError, ErrorKind: kind.String(), Message: ce.Error()})
}

// transcript renders the turn list for the scoring collaborator.
func (s *Session) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, t := range s.turns {
		if t.IsError {
			continue
		}
		b.WriteString(t.Speaker.String())
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
