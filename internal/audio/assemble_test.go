package audio

import (
	"errors"
	"math"
	"testing"
)

func tone(rate int, seconds float64) []float32 {
	n := int(float64(rate) * seconds)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.25 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func TestAssembleAdoptsFirstSegmentRate(t *testing.T) {
	inputs := []Input{
		{Encoded: EncodeWAV(tone(16000, 1.0), 16000)},
		{Encoded: EncodeWAV(tone(22050, 1.0), 22050)},
	}
	out, err := Assemble(inputs)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	seg, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("decode stitched output: %v", err)
	}
	if seg.Rate != 16000 {
		t.Fatalf("target rate = %d, want the first segment's 16000", seg.Rate)
	}
	// two seconds of audio at 16k, duration preserved within 1%
	want := 32000.0
	if diff := math.Abs(float64(len(seg.Samples))-want) / want; diff > 0.01 {
		t.Fatalf("stitched length %d deviates %.2f%% from %v", len(seg.Samples), diff*100, want)
	}
}

func TestAssembleConcatenatesInOrder(t *testing.T) {
	a := []float32{0.5, 0.5, 0.5}
	b := []float32{-0.5, -0.5}
	out, err := Assemble([]Input{
		{Segment: &Segment{Samples: a, Rate: 8000}},
		{Segment: &Segment{Samples: b, Rate: 8000}},
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	seg, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(seg.Samples) != 5 {
		t.Fatalf("length = %d, want 5", len(seg.Samples))
	}
	if seg.Samples[0] < 0.4 || seg.Samples[4] > -0.4 {
		t.Fatalf("segments out of order: first=%v last=%v", seg.Samples[0], seg.Samples[4])
	}
}

func TestAssembleSkipsUndecodableInputs(t *testing.T) {
	out, err := Assemble([]Input{
		{Encoded: []byte("corrupt")},
		{Segment: &Segment{Samples: tone(8000, 0.1), Rate: 8000}},
		{Encoded: []byte("also corrupt")},
	})
	if err != nil {
		t.Fatalf("assemble should skip bad inputs, got %v", err)
	}
	seg, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(seg.Samples) != 800 {
		t.Fatalf("length = %d, want 800", len(seg.Samples))
	}
}

func TestAssembleNoAudio(t *testing.T) {
	for _, inputs := range [][]Input{
		nil,
		{},
		{{Encoded: []byte("junk")}},
		{{Segment: &Segment{Rate: 8000}}},
	} {
		if _, err := Assemble(inputs); !errors.Is(err, ErrNoAudio) {
			t.Fatalf("expected ErrNoAudio, got %v", err)
		}
	}
}
