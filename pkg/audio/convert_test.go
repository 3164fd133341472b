package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/SandilyaSub/Receptionist/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResample_SameRatePassThrough(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	var st audio.State
	out := audio.Resample(pcm, 16000, 16000, &st)
	if !bytes.Equal(out, pcm) {
		t.Fatalf("same-rate resample must be byte-identical: got %v, want %v", out, pcm)
	}
}

func TestResample_InvalidRatesPassThrough(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	var st audio.State
	for _, rates := range [][2]int{{0, 8000}, {8000, 0}, {-1, 8000}} {
		out := audio.Resample(pcm, rates[0], rates[1], &st)
		if !bytes.Equal(out, pcm) {
			t.Errorf("rates %v: data must pass through untouched", rates)
		}
	}
}

func TestResample_ZeroRoundTripPreservesLength(t *testing.T) {
	// 8k -> 16k -> 8k of an all-zero buffer must come back all-zero and the
	// same length.
	zeros := make([]byte, 640) // 40 ms at 8 kHz
	var up, down audio.State

	mid := audio.Resample(zeros, 8000, 16000, &up)
	out := audio.Resample(mid, 16000, 8000, &down)

	if len(out) != len(zeros) {
		t.Fatalf("round-trip length: got %d, want %d", len(out), len(zeros))
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("round-trip byte %d: got %d, want 0", i, b)
		}
	}
}

func TestResample_Upsample2x(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000, 2000, 3000})
	var st audio.State
	out := bytesToSamples(audio.Resample(pcm, 8000, 16000, &st))

	// First frame of a stream has no carried sample, so interpolation stops
	// at the final source sample: 2n-1 outputs.
	want := []int16{0, 500, 1000, 1500, 2000, 2500, 3000}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResample_CarryAcrossFrames(t *testing.T) {
	// Splitting a ramp into two frames must interpolate across the split
	// exactly as if the ramp were resampled in one piece (after the stream
	// warms up past the stateless first frame).
	ramp := make([]int16, 32)
	for i := range ramp {
		ramp[i] = int16(i * 100)
	}

	var whole audio.State
	wantAll := audio.Resample(samplesToBytes(ramp), 8000, 16000, &whole)

	var split audio.State
	first := audio.Resample(samplesToBytes(ramp[:16]), 8000, 16000, &split)
	second := audio.Resample(samplesToBytes(ramp[16:]), 8000, 16000, &split)

	got := append(append([]byte{}, first...), second...)
	if !bytes.Equal(got, wantAll) {
		t.Fatalf("split resample diverged from whole-buffer resample:\ngot  %v\nwant %v",
			bytesToSamples(got), bytesToSamples(wantAll))
	}
}

func TestResample_SteadyStateFrameLength(t *testing.T) {
	// After the first frame, every 8k->16k frame must produce exactly twice
	// its sample count, so the outbound clock never drifts.
	var st audio.State
	frame := make([]byte, 320) // 160 samples
	audio.Resample(frame, 8000, 16000, &st)

	for i := range 5 {
		out := audio.Resample(frame, 8000, 16000, &st)
		if len(out) != 640 {
			t.Fatalf("frame %d: got %d bytes, want 640", i+1, len(out))
		}
	}
}

func TestResample_Downsample3x(t *testing.T) {
	// 24 kHz -> 8 kHz keeps every third sample of a constant signal.
	in := make([]int16, 240)
	for i := range in {
		in[i] = 1234
	}
	var st audio.State
	out := bytesToSamples(audio.Resample(samplesToBytes(in), 24000, 8000, &st))
	if len(out) != 80 {
		t.Fatalf("length: got %d samples, want 80", len(out))
	}
	for i, s := range out {
		if s != 1234 {
			t.Errorf("sample %d: got %d, want 1234", i, s)
		}
	}
}

func TestConverter_InvalidRatesWarnOnce(t *testing.T) {
	c := &audio.Converter{SrcRate: 0, DstRate: 8000}
	pcm := samplesToBytes([]int16{7, 8})
	if out := c.Convert(pcm); !bytes.Equal(out, pcm) {
		t.Fatalf("invalid rates must pass data through, got %v", out)
	}
	// Second call exercises the sync.Once path.
	if out := c.Convert(pcm); !bytes.Equal(out, pcm) {
		t.Fatalf("invalid rates must pass data through on repeat, got %v", out)
	}
}

func TestConverter_OddByteCountTruncates(t *testing.T) {
	c := &audio.Converter{SrcRate: 16000, DstRate: 16000}
	in := []byte{1, 2, 3}
	out := c.Convert(in)
	if len(out) != 2 {
		t.Fatalf("odd input must truncate to whole samples: got %d bytes", len(out))
	}
}

func TestConverter_ResetClearsCarry(t *testing.T) {
	c := &audio.Converter{SrcRate: 8000, DstRate: 16000}
	frame := samplesToBytes([]int16{100, 200})

	first := c.Convert(frame)
	c.Reset()
	again := c.Convert(frame)

	if !bytes.Equal(first, again) {
		t.Fatalf("after Reset a frame must resample like a fresh stream:\nfirst %v\nagain %v",
			bytesToSamples(first), bytesToSamples(again))
	}
}
