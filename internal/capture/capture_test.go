package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/call-voice-lab/internal/call"
)

// chanRecognizer lets a test hand-feed hypotheses.
type chanRecognizer struct {
	ch chan Hypothesis
}

func (r *chanRecognizer) Listen(ctx context.Context) (<-chan Hypothesis, error) {
	return r.ch, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []call.Event
}

func (s *eventSink) add(ev call.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []call.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]call.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) waitFor(t *testing.T, match func(call.Event) bool, what string) call.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return nil
}

func fastConfig() Config {
	return Config{
		SilenceTimeout:    40 * time.Millisecond,
		InactivityTimeout: 150 * time.Millisecond,
		MinFinalLen:       2,
		MinConfidence:     0.4,
		OnsetGap:          60 * time.Millisecond,
	}
}

func newRunning(t *testing.T) (*Service, *chanRecognizer, *eventSink) {
	t.Helper()
	rec := &chanRecognizer{ch: make(chan Hypothesis, 16)}
	sink := &eventSink{}
	svc := New(rec, fastConfig(), sink.add)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	return svc, rec, sink
}

func TestSilenceTimeoutFinalizes(t *testing.T) {
	svc, rec, sink := newRunning(t)
	epoch := svc.Start()

	rec.ch <- Hypothesis{Text: "hello", Confidence: 0.8}
	rec.ch <- Hypothesis{Text: "hello there", Confidence: 0.85}

	ev := sink.waitFor(t, func(ev call.Event) bool {
		_, ok := ev.(call.FinalTranscript)
		return ok
	}, "final transcript")
	final := ev.(call.FinalTranscript)
	if final.Text != "hello there" {
		t.Fatalf("final text = %q", final.Text)
	}
	if final.Epoch != epoch {
		t.Fatalf("final epoch = %d want %d", final.Epoch, epoch)
	}
}

func TestInterimCarriesWindowEpoch(t *testing.T) {
	svc, rec, sink := newRunning(t)
	epoch := svc.Start()

	rec.ch <- Hypothesis{Text: "hi", Confidence: 0.9}
	ev := sink.waitFor(t, func(ev call.Event) bool {
		_, ok := ev.(call.InterimTranscript)
		return ok
	}, "interim transcript")
	if got := ev.(call.InterimTranscript).Epoch; got != epoch {
		t.Fatalf("interim epoch = %d want %d", got, epoch)
	}
}

func TestInactivityFiresWithoutSpeech(t *testing.T) {
	svc, _, sink := newRunning(t)
	epoch := svc.Start()

	ev := sink.waitFor(t, func(ev call.Event) bool {
		_, ok := ev.(call.InactivityTimeout)
		return ok
	}, "inactivity timeout")
	if got := ev.(call.InactivityTimeout).Epoch; got != epoch {
		t.Fatalf("timeout epoch = %d want %d", got, epoch)
	}
}

func TestInterimRestartsInactivityCountdown(t *testing.T) {
	svc, rec, sink := newRunning(t)
	svc.Start()

	// feed hypotheses more often than the 150ms inactivity timeout for well
	// past it; every interim must push the countdown back
	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			rec.ch <- Hypothesis{Text: "still talking", Confidence: 0.9}
		}
	}
	for _, ev := range sink.snapshot() {
		if _, ok := ev.(call.InactivityTimeout); ok {
			t.Fatal("inactivity fired despite continuous interims")
		}
	}
}

func TestNoiseFinalIsDropped(t *testing.T) {
	svc, rec, sink := newRunning(t)
	svc.Start()

	rec.ch <- Hypothesis{Text: "x", Confidence: 0.9} // too short
	time.Sleep(100 * time.Millisecond)
	for _, ev := range sink.snapshot() {
		if _, ok := ev.(call.FinalTranscript); ok {
			t.Fatal("sub-length final should have been dropped")
		}
	}
	if !svc.Active() {
		t.Fatal("window must stay open after a noise final")
	}

	rec.ch <- Hypothesis{Text: "mumble mumble", Confidence: 0.1} // too quiet
	time.Sleep(100 * time.Millisecond)
	for _, ev := range sink.snapshot() {
		if _, ok := ev.(call.FinalTranscript); ok {
			t.Fatal("low-confidence final should have been dropped")
		}
	}
}

func TestStopDiscardsPartialHypotheses(t *testing.T) {
	svc, rec, sink := newRunning(t)
	svc.Start()

	rec.ch <- Hypothesis{Text: "about to be discarded", Confidence: 0.9}
	sink.waitFor(t, func(ev call.Event) bool {
		_, ok := ev.(call.InterimTranscript)
		return ok
	}, "interim before stop")
	svc.Stop()

	time.Sleep(100 * time.Millisecond)
	for _, ev := range sink.snapshot() {
		if _, ok := ev.(call.FinalTranscript); ok {
			t.Fatal("stop must discard the pending final")
		}
	}
}

func TestEpochAdvancesPerWindow(t *testing.T) {
	svc, _, _ := newRunning(t)
	e1 := svc.Start()
	if again := svc.Start(); again != e1 {
		t.Fatalf("start while active must return the same epoch, got %d and %d", e1, again)
	}
	svc.Stop()
	e2 := svc.Start()
	if e2 <= e1 {
		t.Fatalf("epoch must advance across windows: %d then %d", e1, e2)
	}
}

func TestOnsetEmittedOutsideWindow(t *testing.T) {
	_, rec, sink := newRunning(t)
	// no Start: the window is closed, but onsets still flow for barge-in
	rec.ch <- Hypothesis{Text: "interrupting", Confidence: 0.9}

	sink.waitFor(t, func(ev call.Event) bool {
		_, ok := ev.(call.SpeechOnset)
		return ok
	}, "speech onset")
	for _, ev := range sink.snapshot() {
		if _, ok := ev.(call.InterimTranscript); ok {
			t.Fatal("no interim transcripts outside a listening window")
		}
	}
}
