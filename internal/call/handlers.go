package call

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/call-voice-lab/internal/audio"
	"github.com/call-voice-lab/internal/logging"
)

func (s *Session) onConfigure(cfg Config) {
	st := s.currentState()
	if st != StateIdle && st != StateConfiguring {
		logging.Warnw("session: configure ignored", append(logging.SessionFields(s.ID), "state", st.String())...)
		return
	}
	cfg.ApplyDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.setState(StateConfiguring)
}

func (s *Session) onStart() {
	if st := s.currentState(); st != StateConfiguring {
		logging.Warnw("session: start ignored", append(logging.SessionFields(s.ID), "state", st.String())...)
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if err := cfg.Validate(); err != nil {
		// remain in CONFIGURING; the caller can fix the config and retry
		s.emitError(ErrValidation, err)
		return
	}

	s.setState(StateProcessing)

	if err := s.deps.Capture.Run(s.ctx); err != nil {
		// microphone unavailable: the session proceeds text-only
		s.emitError(ErrCapture, err)
	}

	// Recording graph setup can block on a device-permission prompt, so it
	// runs off-loop. Failure is non-fatal: the assembler is the fallback.
	gen := s.gen
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.deps.Recorder.Setup(s.ctx)
		s.HandleEvent(graphResult{gen: gen, err: err})
	}()

	s.askPolicy(ActionBegin)
}

func (s *Session) onGraphResult(e graphResult) {
	if e.gen != s.gen {
		return
	}
	if e.err != nil {
		s.emitError(ErrRecordingGraph, e.err)
		return
	}
	logging.Infow("session: recording graph active", logging.SessionFields(s.ID)...)
}

// askPolicy consults the dialogue policy off-loop. The generation stamp
// lets the loop discard results that arrive after a reset or end.
func (s *Session) askPolicy(action PolicyAction) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	req := PolicyRequest{Action: action, Config: cfg, Turns: s.Turns()}
	gen := s.gen
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		decision, err := s.deps.Policy.Decide(s.ctx, req)
		s.HandleEvent(policyResult{gen: gen, action: action, decision: decision, err: err})
	}()
}

func (s *Session) onPolicyResult(e policyResult) {
	if e.gen != s.gen {
		logging.Debugw("session: discarding stale policy result", logging.SessionFields(s.ID)...)
		return
	}
	if s.currentState() != StateProcessing {
		return
	}
	if e.err != nil {
		// fail fast: surface a visible error turn rather than silently
		// retrying with a desynchronized conversation
		s.policyFails++
		s.appendTurn(SpeakerAgent, "dialogue policy failed", true, false)
		s.emitError(ErrPolicy, e.err)
		if s.policyFails >= 2 {
			s.enterError()
			return
		}
		s.enterListening()
		return
	}
	s.policyFails = 0

	utterance := strings.TrimSpace(e.decision.Utterance)
	wantsEnd := e.decision.EndCall || e.action == ActionEnd
	if utterance == "" {
		if wantsEnd {
			s.finishCall()
			return
		}
		s.enterListening()
		return
	}

	turn := s.appendTurn(SpeakerAgent, utterance, false, false)
	s.speakingTurnID = turn.ID
	s.endAfterSpeak = wantsEnd
	s.setState(StateSpeaking)
	s.mu.Lock()
	voice := s.cfg.VoiceProfile
	s.mu.Unlock()
	s.deps.Playback.Enqueue(turn.ID, utterance, voice)
}

// enterListening opens a capture window. Callers that were speaking must
// cancel playback first so the no-double-speak guarantee holds.
func (s *Session) enterListening() {
	if s.ending {
		return
	}
	s.setState(StateListening)
	s.listenEpoch = s.deps.Capture.Start()
}

func (s *Session) enterError() {
	s.gen++
	s.deps.Capture.Stop()
	s.deps.Playback.Cancel()
	s.setState(StateError)
}

func (s *Session) onSpeechOnset() {
	if s.currentState() != StateSpeaking {
		return
	}
	// barge-in: hard-cancel playback before the next capture window so no
	// two utterances can ever overlap; the interrupted turn is not retried
	logging.Infow("session: barge-in", logging.TurnFields(s.ID, s.speakingTurnID)...)
	s.deps.Playback.Cancel()
	s.speakingTurnID = 0
	s.endAfterSpeak = false
	s.enterListening()
}

func (s *Session) onInterim(e InterimTranscript) {
	if s.currentState() != StateListening || e.Epoch != s.listenEpoch {
		return
	}
	s.emit(Notification{Kind: NotifyInterim, Text: e.Text})
}

func (s *Session) onFinal(e FinalTranscript) {
	// Stale-epoch and wrong-state finals are dropped; because the loop is
	// serial, a final queued before an inactivity timeout always wins.
	if s.currentState() != StateListening || e.Epoch != s.listenEpoch {
		logging.Debugw("session: discarding stale final transcript", logging.SessionFields(s.ID)...)
		return
	}
	s.deps.Capture.Stop()
	s.silentTurns = 0
	s.appendTurn(SpeakerUser, e.Text, false, false)
	s.setState(StateProcessing)
	s.askPolicy(ActionRespond)
}

func (s *Session) onInactivity(e InactivityTimeout) {
	if s.currentState() != StateListening || e.Epoch != s.listenEpoch {
		return
	}
	s.deps.Capture.Stop()
	s.silentTurns++
	s.appendTurn(SpeakerUser, "[silence]", false, true)
	s.setState(StateProcessing)
	if s.silentTurns >= s.cfgMaxSilentTurns() {
		s.askPolicy(ActionEnd)
		return
	}
	s.askPolicy(ActionRespond)
}

func (s *Session) cfgMaxSilentTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxSilentTurns
}

func (s *Session) onCaptureFailed(e CaptureFailed) {
	s.emitError(ErrCapture, e.Err)
}

func (s *Session) onSubmitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	switch s.currentState() {
	case StateSpeaking:
		s.deps.Playback.Cancel()
		s.speakingTurnID = 0
		s.endAfterSpeak = false
	case StateListening:
		s.deps.Capture.Stop()
	default:
		logging.Warnw("session: submit ignored", append(logging.SessionFields(s.ID), "state", s.currentState().String())...)
		return
	}
	s.silentTurns = 0
	s.appendTurn(SpeakerUser, text, false, false)
	s.setState(StateProcessing)
	s.askPolicy(ActionRespond)
}

func (s *Session) onSynthesisDone(e SynthesisDone) {
	t := s.findTurn(e.TurnID)
	if t == nil || e.Segment == nil {
		return
	}
	s.mu.Lock()
	t.Audio = e.Segment
	snap := t.snapshot()
	s.mu.Unlock()
	logging.Debugw("session: audio attached", append(logging.TurnFields(s.ID, t.ID), logging.SegmentFields(len(e.Segment.Samples), e.Segment.Rate)...)...)
	s.emit(Notification{Kind: NotifyTurnUpdated, Turn: &snap})
}

func (s *Session) onSynthesisFailed(e SynthesisFailed) {
	// the turn keeps its text with no audio; the call continues
	s.emitError(ErrSynthesis, e.Err)
	if s.currentState() == StateSpeaking && e.TurnID == s.speakingTurnID {
		s.speakingTurnID = 0
		if s.endAfterSpeak {
			s.endAfterSpeak = false
			s.finishCall()
			return
		}
		s.enterListening()
	}
}

func (s *Session) onPlaybackStarted(e PlaybackStarted) {
	logging.Debugw("session: playback started", logging.TurnFields(s.ID, e.TurnID)...)
}

func (s *Session) onPlaybackEnded(e PlaybackEnded) {
	if s.currentState() != StateSpeaking || e.TurnID != s.speakingTurnID {
		// late echo of a cancelled item; the transition already happened
		return
	}
	s.speakingTurnID = 0
	if e.Cancelled {
		return
	}
	if s.endAfterSpeak {
		s.endAfterSpeak = false
		s.finishCall()
		return
	}
	s.enterListening()
}

func (s *Session) onWordCursor(e WordCursor) {
	t := s.findTurn(e.TurnID)
	if t == nil {
		return
	}
	s.mu.Lock()
	t.WordIndex = e.WordIndex
	s.mu.Unlock()
	s.emit(Notification{Kind: NotifyWordCursor, WordIndex: e.WordIndex, Turn: &TurnSnapshot{ID: e.TurnID}})
}

func (s *Session) onReset() {
	s.gen++
	s.deps.Capture.Stop()
	s.deps.Playback.Cancel()
	if s.deps.Recorder.Active() {
		if _, err := s.deps.Recorder.Teardown(); err != nil {
			logging.Warnw("session: recorder teardown on reset", append(logging.SessionFields(s.ID), "err", err)...)
		}
	}
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
	s.nextTurnID = 0
	s.silentTurns = 0
	s.policyFails = 0
	s.speakingTurnID = 0
	s.endAfterSpeak = false
	s.ending = false
	s.assembled = false
	s.setState(StateConfiguring)
}

// finishCall is the single teardown path for every way a call ends. It is
// safe to reach from any state and runs at most once per call.
func (s *Session) finishCall() {
	if st := s.currentState(); st == StateEnded {
		return
	}
	s.ending = true
	s.gen++ // in-flight policy and synthesis results are now discarded
	s.deps.Capture.Stop()
	s.deps.Playback.Cancel()

	artifact, err := s.deps.Recorder.Teardown()
	if err != nil {
		s.emitError(ErrRecordingGraph, err)
	}

	s.setState(StateEnded)

	if !s.assembled {
		s.assembled = true
		s.wg.Add(1)
		go s.finalizeCall(artifact)
	}
}

// finalizeCall produces the final audio artifact (live recording, or the
// stitched fallback when the live one is empty), persists it when
// configured, emits the call record, and then runs scoring.
func (s *Session) finalizeCall(live []byte) {
	defer s.wg.Done()

	final := live
	kind := "live"
	if len(final) == 0 {
		kind = "stitched"
		s.mu.Lock()
		inputs := make([]audio.Input, 0, len(s.turns))
		for _, t := range s.turns {
			inputs = append(inputs, audio.Input{Segment: t.Audio})
		}
		s.mu.Unlock()
		stitched, err := audio.Assemble(inputs)
		switch {
		case errors.Is(err, audio.ErrNoAudio):
			// a call can legitimately end with no audio at all
			logging.Infow("session: export has no audio", logging.SessionFields(s.ID)...)
			final = nil
		case err != nil:
			// export omits audio; the session still completes
			s.emitError(ErrAssembly, err)
			final = nil
		default:
			final = stitched
		}
	}

	record := &CallRecord{
		SessionID: s.ID,
		Status:    StateEnded.String(),
		Turns:     s.Turns(),
		AudioLen:  len(final),
	}
	if len(final) > 0 {
		if dir := SaveAudioDir(); dir != "" {
			ext := "wav"
			if kind == "live" {
				ext = "opusrec"
			}
			name := fmt.Sprintf("%s_%s_call.%s", time.Now().UTC().Format("20060102T150405.000Z"), s.ID, ext)
			path := filepath.Join(dir, name)
			if err := SaveFileAtomic(path, final, 0o644); err != nil {
				logging.Warnw("session: failed to save recording", append(logging.SessionFields(s.ID), "path", path, "err", err)...)
			} else {
				record.AudioRef = path
				logging.Infow("session: saved recording", append(logging.SessionFields(s.ID), "path", path, "kind", kind, "bytes", len(final))...)
			}
		}
	}
	s.emit(Notification{Kind: NotifyCallEnded, Record: record})

	if s.deps.Scorer == nil {
		return
	}
	s.mu.Lock()
	productCtx := s.cfg.ProductContext
	s.mu.Unlock()
	report, err := s.deps.Scorer.Score(s.ctx, s.transcript(), productCtx)
	if err != nil {
		logging.Warnw("session: scoring failed", append(logging.SessionFields(s.ID), "err", err)...)
		return
	}
	record.ScoreRef = report.ScoreRef
	s.emit(Notification{Kind: NotifyScoreReady, Score: report})
}
