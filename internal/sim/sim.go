// Package sim provides the simulated input side of a call: a microphone
// device that replays a WAV file (or silence) in 20 ms frames, and a
// recognizer that streams scripted utterances word by word, the way a live
// speech recognizer surfaces growing interim hypotheses.
package sim

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/call-voice-lab/internal/audio"
	"github.com/call-voice-lab/internal/capture"
	"github.com/call-voice-lab/internal/logging"
	"github.com/call-voice-lab/internal/record"
)

// Device replays a WAV file as paced PCM mic frames. With no source file it
// produces silence, which still exercises the full recording path.
type Device struct {
	WavPath string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (d *Device) Acquire(ctx context.Context) (<-chan record.Frame, error) {
	var samples []float32
	rate := record.MixRate
	if d.WavPath != "" {
		b, err := os.ReadFile(d.WavPath)
		if err != nil {
			return nil, err
		}
		seg, err := audio.DecodeWAV(b)
		if err != nil {
			return nil, err
		}
		samples = seg.Samples
		rate = seg.Rate
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	frameLen := rate / 50
	out := make(chan record.Frame, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		pos := 0
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
			pcm := make([]int16, frameLen)
			for i := range pcm {
				if pos+i < len(samples) {
					s := samples[pos+i]
					if s >= 0 {
						pcm[i] = int16(s * 32767)
					} else {
						pcm[i] = int16(s * 32768)
					}
				}
			}
			pos += frameLen
			select {
			case out <- record.Frame{PCM: pcm, Rate: rate}:
			case <-runCtx.Done():
				return
			default:
				// receiver is gone or slow; drop the frame
			}
		}
	}()
	logging.Infow("sim: mic device acquired", "wav", d.WavPath, "rate", rate)
	return out, nil
}

func (d *Device) Release() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Recognizer streams utterances read from a script file. Each non-empty
// line is one utterance; an optional "confidence|" prefix overrides the
// default confidence. Words arrive at WordDelay intervals so interim
// hypotheses grow the way a live recognizer's do, and UtteranceGap of
// silence separates utterances so the capture silence timer can finalize.
type Recognizer struct {
	ScriptPath   string
	WordDelay    time.Duration
	UtteranceGap time.Duration
	Confidence   float64
}

func (r *Recognizer) Listen(ctx context.Context) (<-chan capture.Hypothesis, error) {
	f, err := os.Open(r.ScriptPath)
	if err != nil {
		return nil, err
	}

	wordDelay := r.WordDelay
	if wordDelay <= 0 {
		wordDelay = 120 * time.Millisecond
	}
	gap := r.UtteranceGap
	if gap <= 0 {
		gap = 2 * time.Second
	}
	defConf := r.Confidence
	if defConf <= 0 {
		defConf = 0.9
	}

	out := make(chan capture.Hypothesis, 8)
	go func() {
		defer close(out)
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			conf := defConf
			if i := strings.Index(line, "|"); i > 0 {
				if parsed, err := strconv.ParseFloat(line[:i], 64); err == nil {
					conf = parsed
					line = strings.TrimSpace(line[i+1:])
				}
			}
			words := strings.Fields(line)
			for n := range words {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wordDelay):
				}
				out <- capture.Hypothesis{Text: strings.Join(words[:n+1], " "), Confidence: conf}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
		}
	}()
	return out, nil
}
