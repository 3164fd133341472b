// Package audio provides PCM rate conversion for the bridge's two clock
// domains: the telephony leg (8 kHz) and the model leg (16 kHz in, 24 kHz
// out). All audio everywhere is signed 16-bit little-endian mono PCM.
package audio

import (
	"log/slog"
	"sync"
)

// Sample rates used across the bridge.
const (
	TelephonyRate   = 8000
	ModelInputRate  = 16000
	ModelOutputRate = 24000
)

// State carries resampler continuity across consecutive frames of one
// stream: the final source sample of the previous frame and the fractional
// read position left over after it. Feeding successive frames of the same
// stream through one State splices them without clicks at the boundaries.
//
// The zero value is ready to use. A State belongs to exactly one stream
// direction; never share it between goroutines.
type State struct {
	prev    int16
	hasPrev bool
	frac    float64
}

// Reset discards carried state, e.g. after the outbound buffer is cleared.
func (st *State) Reset() {
	st.prev = 0
	st.hasPrev = false
	st.frac = 0
}

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation, carrying one sample of history in st so that consecutive
// frames interpolate across their boundary.
//
// When srcRate == dstRate the input is returned unchanged and st is not
// touched. Invalid rates (<= 0) also return the input unchanged; callers
// that want a warning for that case should go through a [Converter].
func Resample(pcm []byte, srcRate, dstRate int, st *State) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcSamples := len(pcm) / 2
	if srcSamples == 0 {
		return nil
	}

	// Build the interpolation window: the carried sample (if any) followed
	// by this frame's samples.
	window := make([]int16, 0, srcSamples+1)
	if st.hasPrev {
		window = append(window, st.prev)
	}
	for i := range srcSamples {
		window = append(window, int16(pcm[i*2])|int16(pcm[i*2+1])<<8)
	}

	n := len(window)
	ratio := float64(srcRate) / float64(dstRate)
	last := float64(n - 1)

	out := make([]byte, 0, (int(float64(srcSamples)/ratio)+2)*2)
	pos := st.frac
	for pos <= last {
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := window[idx]
		s1 := s0
		if idx+1 < n {
			s1 = window[idx+1]
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out = append(out, byte(v), byte(v>>8))
		pos += ratio
	}

	st.prev = window[n-1]
	st.hasPrev = true
	st.frac = pos - last
	return out
}

// Converter pins a (src, dst) rate pair and owns the per-stream State for
// it. Create one per pump direction; not designed for shared use across
// goroutines.
type Converter struct {
	SrcRate int
	DstRate int

	state       State
	warnedRates sync.Once
	warnedOdd   sync.Once
}

// Convert resamples one frame, maintaining continuity with prior frames.
// Invalid rates return the data untouched after a one-time warning. A frame
// with an odd byte count is truncated to whole samples after a one-time
// warning.
func (c *Converter) Convert(pcm []byte) []byte {
	if c.SrcRate <= 0 || c.DstRate <= 0 {
		c.warnedRates.Do(func() {
			slog.Warn("audio converter: invalid sample rates, passing data through",
				"srcRate", c.SrcRate,
				"dstRate", c.DstRate,
			)
		})
		return pcm
	}

	if len(pcm)%2 != 0 {
		c.warnedOdd.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, truncating to whole samples",
				"bytes", len(pcm),
			)
		})
		pcm = pcm[:len(pcm)-1]
	}

	return Resample(pcm, c.SrcRate, c.DstRate, &c.state)
}

// Reset clears the carried inter-frame state, e.g. when the stream it feeds
// is flushed or restarted.
func (c *Converter) Reset() { c.state.Reset() }
