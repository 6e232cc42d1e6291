package dsp

import (
	"iter"
	"math"
)

// int16 full scale; samples are normalized into [-1, 1) before squaring so
// energy values are comparable across block sizes and formats.
const fullScale = 32768.0

// Window is a single RMS energy measurement over a fixed-length slice of
// complex samples. Start is the index of the first complex sample of the
// window within the block it was computed from.
type Window struct {
	Start int
	RMS   float64
}

// Windows slides a window of windowLen complex samples across the block in
// steps of hopLen and yields the RMS amplitude of each position, where the
// instantaneous power of a sample is I²+Q². The sequence is lazy, finite and
// restartable, and has no side effects.
//
// A block shorter than windowLen yields nothing: partial windows would bias
// the noise floor estimate. For len(iq)/2 = N ≥ windowLen the sequence has
// exactly 1 + (N-windowLen)/hopLen elements.
func Windows(iq []int16, windowLen, hopLen int) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		n := len(iq) / 2
		if windowLen <= 0 || hopLen <= 0 || hopLen > windowLen || n < windowLen {
			return
		}

		power := make([]float64, n)
		for i := 0; i < n; i++ {
			re := float64(iq[2*i]) / fullScale
			im := float64(iq[2*i+1]) / fullScale
			power[i] = re*re + im*im
		}

		for start := 0; start+windowLen <= n; start += hopLen {
			var sum float64
			for _, p := range power[start : start+windowLen] {
				sum += p
			}

			w := Window{Start: start, RMS: math.Sqrt(sum / float64(windowLen))}
			if !yield(w) {
				return
			}
		}
	}
}

// Threshold derives the trigger threshold from a noise floor estimate and a
// margin in dB: floor × 10^(margin/20).
func Threshold(floor, marginDB float64) float64 {
	return floor * math.Pow(10, marginDB/20)
}
