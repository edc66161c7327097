// Package record implements the live session recording: microphone and
// agent playback routed through one mixer into a recorder sink that flushes
// a single encoded artifact at teardown.
package record

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/call-voice-lab/internal/audio"
	"github.com/call-voice-lab/internal/logging"
	"github.com/hraban/opus"
)

// MixRate is the graph's common sample rate; sources at other rates are
// resampled on the way in.
const MixRate = 48000

// Frame is one chunk of microphone input: either an encoded opus packet at
// MixRate mono, or raw PCM at Rate.
type Frame struct {
	Opus []byte
	PCM  []int16
	Rate int
}

// Device is the platform input-audio stream. Acquire may block on a
// permission prompt; a refusal leaves the graph unavailable and the
// post-call assembler as the sole fallback.
type Device interface {
	Acquire(ctx context.Context) (<-chan Frame, error)
	Release() error
}

// GraphState is the recording lifecycle.
type GraphState int

const (
	GraphUnset GraphState = iota
	GraphActive
	GraphStopped
)

func (s GraphState) String() string {
	switch s {
	case GraphUnset:
		return "unset"
	case GraphActive:
		return "active"
	case GraphStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Graph owns the mic source, the mixer and the recorder sink for one
// session. It is created and torn down only by the turn controller, so two
// sessions can never contend for one device handle.
type Graph struct {
	device Device

	mu       sync.Mutex
	state    GraphState
	frames   <-chan Frame
	dec      *opus.Decoder
	mix      []int32
	micPos   int
	agentPos int
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	decodeErrCount int64
}

func NewGraph(device Device) *Graph {
	return &Graph{device: device}
}

// Setup acquires the input stream and wires mic and agent taps into the
// mixer. It is idempotent: a second call on an active graph is a no-op.
func (g *Graph) Setup(ctx context.Context) error {
	g.mu.Lock()
	if g.state == GraphActive {
		g.mu.Unlock()
		return nil
	}
	if g.device == nil {
		g.mu.Unlock()
		return errors.New("no capture device")
	}
	g.mu.Unlock()

	frames, err := g.device.Acquire(ctx)
	if err != nil {
		return err
	}
	dec, err := opus.NewDecoder(MixRate, 1)
	if err != nil {
		_ = g.device.Release()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.state = GraphActive
	g.frames = frames
	g.dec = dec
	g.mix = nil
	g.micPos = 0
	g.agentPos = 0
	g.cancel = cancel
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				g.onMicFrame(f)
			}
		}
	}()
	logging.Infow("record: graph active", "rate", MixRate)
	return nil
}

// Active reports whether the graph is recording.
func (g *Graph) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GraphActive
}

func (g *Graph) onMicFrame(f Frame) {
	var pcm []int16
	switch {
	case len(f.Opus) > 0:
		buf := make([]int16, 5760)
		g.mu.Lock()
		dec := g.dec
		g.mu.Unlock()
		if dec == nil {
			return
		}
		n, err := dec.Decode(f.Opus, buf)
		if err != nil {
			atomic.AddInt64(&g.decodeErrCount, 1)
			logging.Errorw("record: opus decode error", "err", err)
			return
		}
		pcm = buf[:n]
	case len(f.PCM) > 0:
		pcm = f.PCM
		if f.Rate > 0 && f.Rate != MixRate {
			pcm = resampleInt16(pcm, f.Rate, MixRate)
		}
	default:
		return
	}

	g.mu.Lock()
	if g.state == GraphActive {
		g.mixAt(g.micPos, pcm)
		g.micPos += len(pcm)
	}
	g.mu.Unlock()
}

// PushAgent feeds agent playback audio into the mixer. The playback sink's
// tap calls this per frame while the agent speaks.
func (g *Graph) PushAgent(seg *audio.Segment) {
	if seg == nil || len(seg.Samples) == 0 || seg.Rate <= 0 {
		return
	}
	samples := seg.Samples
	if seg.Rate != MixRate {
		samples = audio.Resample(samples, seg.Rate, MixRate)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = floatToPCM(s)
	}

	g.mu.Lock()
	if g.state == GraphActive {
		g.mixAt(g.agentPos, pcm)
		g.agentPos += len(pcm)
	}
	g.mu.Unlock()
}

// mixAt adds samples into the shared buffer at offset, growing as needed.
// Saturation happens once, at flush. Callers hold g.mu.
func (g *Graph) mixAt(offset int, pcm []int16) {
	need := offset + len(pcm)
	for len(g.mix) < need {
		g.mix = append(g.mix, 0)
	}
	for i, s := range pcm {
		g.mix[offset+i] += int32(s)
	}
}

// Teardown stops the recorder, flushes buffered data into one encoded
// artifact, releases the input stream and discards the graph nodes. The
// steps run best-effort in order: a failure at one never skips releasing
// the microphone handle. A zero-length artifact tells the caller to fall
// back to post-call stitching.
func (g *Graph) Teardown() ([]byte, error) {
	g.mu.Lock()
	if g.state != GraphActive {
		g.mu.Unlock()
		return nil, nil
	}
	g.state = GraphStopped
	cancel := g.cancel
	g.mu.Unlock()

	// stop the recorder
	if cancel != nil {
		cancel()
	}
	g.wg.Wait()

	var errs []error

	// flush buffered data into one encoded artifact
	g.mu.Lock()
	mixed := make([]int16, len(g.mix))
	for i, v := range g.mix {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		mixed[i] = int16(v)
	}
	g.mu.Unlock()
	artifact, err := encodeArtifact(mixed, MixRate)
	if err != nil {
		errs = append(errs, err)
		artifact = nil
	}

	// release the input stream, even if encoding failed
	if g.device != nil {
		if err := g.device.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	// disconnect and discard the graph nodes
	g.mu.Lock()
	g.frames = nil
	g.dec = nil
	g.mix = nil
	g.cancel = nil
	g.mu.Unlock()

	logging.Infow("record: graph torn down",
		"artifact_bytes", len(artifact),
		"mixed_samples", len(mixed),
		"decode_errors", atomic.LoadInt64(&g.decodeErrCount))
	return artifact, errors.Join(errs...)
}

func floatToPCM(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s >= 0 {
		return int16(s * 32767)
	}
	return int16(s * 32768)
}

func resampleInt16(in []int16, fromRate, toRate int) []int16 {
	f := make([]float32, len(in))
	for i, v := range in {
		if v >= 0 {
			f[i] = float32(v) / 32767
		} else {
			f[i] = float32(v) / 32768
		}
	}
	out := audio.Resample(f, fromRate, toRate)
	pcm := make([]int16, len(out))
	for i, v := range out {
		pcm[i] = floatToPCM(v)
	}
	return pcm
}
