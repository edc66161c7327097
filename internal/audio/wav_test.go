package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	b := EncodeWAV(samples, 16000)
	if len(b) != 44+len(samples)*2 {
		t.Fatalf("unexpected size %d", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q %q", b[0:4], b[8:12])
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 16000 {
		t.Fatalf("sample rate in header = %d", rate)
	}
	if bits := binary.LittleEndian.Uint16(b[34:36]); bits != 16 {
		t.Fatalf("bits per sample = %d", bits)
	}
}

func TestScalingAsymmetric(t *testing.T) {
	b := EncodeWAV([]float32{1, -1, 0.5, -0.5}, 8000)
	data := b[44:]
	got := []int16{
		int16(binary.LittleEndian.Uint16(data[0:2])),
		int16(binary.LittleEndian.Uint16(data[2:4])),
		int16(binary.LittleEndian.Uint16(data[4:6])),
		int16(binary.LittleEndian.Uint16(data[6:8])),
	}
	want := []int16{32767, -32768, 16383, -16384}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeClampsOutOfRange(t *testing.T) {
	b := EncodeWAV([]float32{2.0, -3.0}, 8000)
	data := b[44:]
	if v := int16(binary.LittleEndian.Uint16(data[0:2])); v != 32767 {
		t.Fatalf("positive clamp: got %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(data[2:4])); v != -32768 {
		t.Fatalf("negative clamp: got %d", v)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := make([]float32, 1600)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}
	seg, err := DecodeWAV(EncodeWAV(in, 16000))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.Rate != 16000 {
		t.Fatalf("rate = %d", seg.Rate)
	}
	if len(seg.Samples) != len(in) {
		t.Fatalf("length: got %d want %d", len(seg.Samples), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(seg.Samples[i] - in[i])); diff > 1.0/32000 {
			t.Fatalf("sample %d drifted by %v", i, diff)
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := DecodeWAV(nil); err == nil {
		t.Fatal("expected an error for empty input")
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// hand-build a 2-channel file: L=0.5, R=-0.5 should average near zero
	mono := EncodeWAV([]float32{0.5}, 8000)
	_ = mono
	var data []byte
	data = append(data, mono[:22]...)
	data = append(data, 2, 0) // channels = 2
	data = append(data, mono[24:34]...)
	data = append(data, 16, 0)
	data = append(data, []byte("data")...)
	data = append(data, 4, 0, 0, 0)
	l := make([]byte, 2)
	r := make([]byte, 2)
	lv, rv := int16(16383), int16(-16384)
	binary.LittleEndian.PutUint16(l, uint16(lv))
	binary.LittleEndian.PutUint16(r, uint16(rv))
	data = append(data, l...)
	data = append(data, r...)

	seg, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode stereo: %v", err)
	}
	if len(seg.Samples) != 1 {
		t.Fatalf("expected 1 mono sample, got %d", len(seg.Samples))
	}
	if math.Abs(float64(seg.Samples[0])) > 0.001 {
		t.Fatalf("downmix of +/- pair should cancel, got %v", seg.Samples[0])
	}
}

func TestResamplePreservesDuration(t *testing.T) {
	in := make([]float32, 22050) // one second at 22.05k
	out := Resample(in, 22050, 16000)
	if len(out) != 16000 {
		t.Fatalf("resampled length = %d, want 16000", len(out))
	}
	same := Resample(in, 22050, 22050)
	if len(same) != len(in) {
		t.Fatalf("identity resample changed length")
	}
	// identity resample must still be a copy
	same[0] = 1
	if in[0] == 1 {
		t.Fatal("identity resample aliases input")
	}
}
