// Package playback owns the agent's voice: a strictly FIFO queue of
// synthesized utterances with hard-cancel support for barge-in and
// end-of-call cleanup.
package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/call-voice-lab/internal/audio"
	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/logging"
)

// Synthesizer is the external speech-synthesis provider: utterance text and
// a voice-profile id in, encoded WAV out.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error)
}

// Player renders one segment to the output sink, blocking until playback
// completes or ctx is cancelled. The queue guarantees Play is never invoked
// concurrently.
type Player interface {
	Play(ctx context.Context, seg *audio.Segment) error
}

type item struct {
	turnID int64
	text   string
	voice  string
	gen    uint64
	done   chan struct{}
}

// Queue synthesizes and plays utterances one at a time, in enqueue order.
// A per-item synthesis failure skips that item without blocking the rest.
type Queue struct {
	synth  Synthesizer
	player Player
	emit   func(call.Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu         sync.Mutex
	items      []*item
	gen        uint64
	current    *item
	playCancel context.CancelFunc
}

func New(synth Synthesizer, player Player, emit func(call.Event)) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:  synth,
		player: player,
		emit:   emit,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue appends a play request. Synthesis happens on the queue worker so
// ordering follows enqueue order, never synthesis completion order.
func (q *Queue) Enqueue(turnID int64, text, voiceProfile string) {
	it := &item{turnID: turnID, text: text, voice: voiceProfile, done: make(chan struct{})}
	q.mu.Lock()
	it.gen = q.gen
	q.items = append(q.items, it)
	depth := len(q.items)
	q.mu.Unlock()
	logging.Debugw("playback: enqueued", "turn.id", turnID, "queue_depth", depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel halts current playback synchronously, clears the queue, and
// returns only once the worker has acknowledged, so no audio from the
// cancelled utterance can overlap whatever the caller does next.
func (q *Queue) Cancel() {
	q.mu.Lock()
	q.gen++
	dropped := len(q.items)
	q.items = nil
	cur := q.current
	cancelPlay := q.playCancel
	q.mu.Unlock()
	if cancelPlay != nil {
		cancelPlay()
	}
	if cur != nil {
		<-cur.done
	}
	if dropped > 0 || cur != nil {
		logging.Infow("playback: cancelled", "dropped", dropped, "had_current", cur != nil)
	}
}

// Close stops the worker. Pending items are abandoned.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			it := q.items[0]
			q.items = q.items[1:]
			if it.gen != q.gen {
				q.mu.Unlock()
				close(it.done)
				continue
			}
			playCtx, cancelPlay := context.WithCancel(q.ctx)
			q.current = it
			q.playCancel = cancelPlay
			q.mu.Unlock()

			q.process(playCtx, it)

			cancelPlay()
			q.mu.Lock()
			q.current = nil
			q.playCancel = nil
			q.mu.Unlock()
			close(it.done)
		}
	}
}

func (q *Queue) process(ctx context.Context, it *item) {
	encoded, err := q.synth.Synthesize(ctx, it.text, it.voice)
	if ctx.Err() != nil {
		// cancelled mid-synthesis; the network call may still complete
		// upstream but its result is discarded here
		q.emit(call.PlaybackEnded{TurnID: it.turnID, Cancelled: true})
		return
	}
	if err != nil {
		logging.Warnw("playback: synthesis failed; skipping item", "turn.id", it.turnID, "err", err)
		q.emit(call.SynthesisFailed{TurnID: it.turnID, Err: err})
		return
	}
	seg, err := audio.DecodeWAV(encoded)
	if err != nil {
		logging.Warnw("playback: undecodable synthesis output", "turn.id", it.turnID, "err", err)
		q.emit(call.SynthesisFailed{TurnID: it.turnID, Err: err})
		return
	}

	q.emit(call.SynthesisDone{TurnID: it.turnID, Segment: seg})
	q.emit(call.PlaybackStarted{TurnID: it.turnID})

	cursorDone := make(chan struct{})
	q.wg.Add(1)
	go q.trackCursor(it, seg, cursorDone)

	err = q.player.Play(ctx, seg)
	cancelled := ctx.Err() != nil
	close(cursorDone)
	if err != nil && !cancelled {
		logging.Warnw("playback: player error", "turn.id", it.turnID, "err", err)
	}
	q.emit(call.PlaybackEnded{TurnID: it.turnID, Cancelled: cancelled})
}

// trackCursor emits an approximate word-boundary cursor by linearly
// interpolating elapsed time over total duration against word count. It is
// for UI highlighting only and never drives control decisions.
func (q *Queue) trackCursor(it *item, seg *audio.Segment, done <-chan struct{}) {
	defer q.wg.Done()
	words := len(strings.Fields(it.text))
	total := seg.Duration()
	if words == 0 || total <= 0 {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			idx := int(float64(words) * float64(time.Since(start)) / float64(total))
			if idx >= words {
				idx = words - 1
			}
			if idx != last {
				last = idx
				q.emit(call.WordCursor{TurnID: it.turnID, WordIndex: idx})
			}
		}
	}
}
