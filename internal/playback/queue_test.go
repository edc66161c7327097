package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/call-voice-lab/internal/audio"
	"github.com/call-voice-lab/internal/call"
)

// fakeSynth returns a tiny valid WAV per request, or an error for texts it
// was told to fail on.
type fakeSynth struct {
	mu    sync.Mutex
	fail  map[string]error
	delay time.Duration
	calls []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	err := f.fail[text]
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(make([]float32, 160), 16000), nil
}

// blockingPlayer blocks until its ctx is cancelled or released.
type blockingPlayer struct {
	mu      sync.Mutex
	playing int
	release chan struct{}
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{release: make(chan struct{})}
}

func (p *blockingPlayer) Play(ctx context.Context, seg *audio.Segment) error {
	p.mu.Lock()
	p.playing++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playing--
		p.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.release:
		return nil
	}
}

func (p *blockingPlayer) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

type eventLog struct {
	mu   sync.Mutex
	list []call.Event
}

func (l *eventLog) add(ev call.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, ev)
}

func (l *eventLog) snapshot() []call.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]call.Event, len(l.list))
	copy(out, l.list)
	return out
}

func TestPlaysInEnqueueOrder(t *testing.T) {
	synth := &fakeSynth{}
	log := &eventLog{}
	q := New(synth, &PacedSink{}, log.add)
	defer q.Close()

	q.Enqueue(1, "first utterance", "v")
	q.Enqueue(2, "second utterance", "v")
	q.Enqueue(3, "third utterance", "v")

	require.Eventually(t, func() bool {
		var ended []int64
		for _, ev := range log.snapshot() {
			if e, ok := ev.(call.PlaybackEnded); ok {
				ended = append(ended, e.TurnID)
			}
		}
		return len(ended) == 3
	}, 5*time.Second, 10*time.Millisecond)

	var started []int64
	for _, ev := range log.snapshot() {
		if e, ok := ev.(call.PlaybackStarted); ok {
			started = append(started, e.TurnID)
		}
	}
	require.Equal(t, []int64{1, 2, 3}, started)
}

func TestSynthesisFailureSkipsItemOnly(t *testing.T) {
	synth := &fakeSynth{fail: map[string]error{"bad": errors.New("tts rejected it")}}
	log := &eventLog{}
	q := New(synth, &PacedSink{}, log.add)
	defer q.Close()

	q.Enqueue(1, "bad", "v")
	q.Enqueue(2, "good", "v")

	require.Eventually(t, func() bool {
		var failed, ended bool
		for _, ev := range log.snapshot() {
			if e, ok := ev.(call.SynthesisFailed); ok && e.TurnID == 1 {
				failed = true
			}
			if e, ok := ev.(call.PlaybackEnded); ok && e.TurnID == 2 && !e.Cancelled {
				ended = true
			}
		}
		return failed && ended
	}, 5*time.Second, 10*time.Millisecond)

	// the failed item must never have started playing
	for _, ev := range log.snapshot() {
		if e, ok := ev.(call.PlaybackStarted); ok {
			require.NotEqual(t, int64(1), e.TurnID)
		}
	}
}

func TestUndecodableSynthesisOutputFails(t *testing.T) {
	synth := &garbageSynth{}
	log := &eventLog{}
	q := New(synth, &PacedSink{}, log.add)
	defer q.Close()

	q.Enqueue(7, "anything", "v")
	require.Eventually(t, func() bool {
		for _, ev := range log.snapshot() {
			if e, ok := ev.(call.SynthesisFailed); ok && e.TurnID == 7 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

type garbageSynth struct{}

func (garbageSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return []byte("not audio at all"), nil
}

func TestCancelIsSynchronous(t *testing.T) {
	synth := &fakeSynth{}
	player := newBlockingPlayer()
	log := &eventLog{}
	q := New(synth, player, log.add)
	defer q.Close()

	q.Enqueue(1, "long speech", "v")
	require.Eventually(t, func() bool { return player.active() == 1 },
		2*time.Second, 5*time.Millisecond)

	q.Cancel()
	// Cancel must not return while audio can still be produced
	require.Equal(t, 0, player.active())

	var cancelled bool
	for _, ev := range log.snapshot() {
		if e, ok := ev.(call.PlaybackEnded); ok && e.TurnID == 1 && e.Cancelled {
			cancelled = true
		}
	}
	require.True(t, cancelled, "cancelled playback must still report PlaybackEnded")
}

func TestCancelClearsPendingItems(t *testing.T) {
	synth := &fakeSynth{}
	player := newBlockingPlayer()
	log := &eventLog{}
	q := New(synth, player, log.add)
	defer q.Close()

	q.Enqueue(1, "now playing", "v")
	require.Eventually(t, func() bool { return player.active() == 1 },
		2*time.Second, 5*time.Millisecond)
	q.Enqueue(2, "queued behind", "v")
	q.Enqueue(3, "also queued", "v")

	q.Cancel()

	// nothing new may start after the cancel
	time.Sleep(100 * time.Millisecond)
	synth.mu.Lock()
	calls := len(synth.calls)
	synth.mu.Unlock()
	require.Equal(t, 1, calls, "pending items must be dropped unsynthesized")
}

func TestEnqueueAfterCancelStillPlays(t *testing.T) {
	synth := &fakeSynth{}
	log := &eventLog{}
	q := New(synth, &PacedSink{}, log.add)
	defer q.Close()

	q.Enqueue(1, "will be cancelled", "v")
	q.Cancel()
	q.Enqueue(2, "fresh after cancel", "v")

	require.Eventually(t, func() bool {
		for _, ev := range log.snapshot() {
			if e, ok := ev.(call.PlaybackEnded); ok && e.TurnID == 2 && !e.Cancelled {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWordCursorAdvances(t *testing.T) {
	synth := &longSynth{}
	log := &eventLog{}
	q := New(synth, &PacedSink{}, log.add)
	defer q.Close()

	q.Enqueue(1, "one two three four five", "v")
	require.Eventually(t, func() bool {
		for _, ev := range log.snapshot() {
			if _, ok := ev.(call.PlaybackEnded); ok {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	last := -1
	for _, ev := range log.snapshot() {
		if e, ok := ev.(call.WordCursor); ok {
			require.Greater(t, e.WordIndex, last, "cursor must move forward")
			last = e.WordIndex
			require.Less(t, e.WordIndex, 5, "cursor stays within word count")
		}
	}
	require.GreaterOrEqual(t, last, 0, "expected at least one cursor event")
}

// longSynth produces half a second of audio so the cursor ticker gets a few
// turns before playback ends.
type longSynth struct{}

func (longSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return audio.EncodeWAV(make([]float32, 8000), 16000), nil
}

func TestPacedSinkFeedsTap(t *testing.T) {
	var mu sync.Mutex
	var total int
	sink := &PacedSink{Tap: func(seg *audio.Segment) {
		mu.Lock()
		total += len(seg.Samples)
		mu.Unlock()
	}}

	seg := &audio.Segment{Samples: make([]float32, 1600), Rate: 16000}
	if err := sink.Play(context.Background(), seg); err != nil {
		t.Fatalf("play: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if total != 1600 {
		t.Fatalf("tap received %d samples, want 1600", total)
	}
}

func TestPacedSinkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &PacedSink{}
	seg := &audio.Segment{Samples: make([]float32, 48000*10), Rate: 48000}

	done := make(chan error, 1)
	go func() { done <- sink.Play(ctx, seg) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("play did not stop on cancel")
	}
}
