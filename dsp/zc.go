package dsp

import (
	"math"
	"math/cmplx"
)

// ZadoffChu generates the length-L constant-amplitude zero-autocorrelation
// sequence with the given root. Root and length must be coprime for the
// autocorrelation property to hold.
func ZadoffChu(root, length int) []complex128 {
	seq := make([]complex128, length)
	cf := float64(length % 2)
	u := float64(root)
	l := float64(length)
	for n := range seq {
		fn := float64(n)
		phase := -math.Pi * u * fn * (fn + cf) / l
		seq[n] = cmplx.Exp(complex(0, phase))
	}
	return seq
}

// UpsampleHold stretches seq by the given ratio using sample-hold: output
// sample k repeats seq[floor(k/ratio)]. Ratios below 1 are treated as 1.
// Both ends of a link must stretch the synchronization sequence the same
// way for the correlation peak to stay sharp, so the helper is shared.
func UpsampleHold(seq []complex128, ratio float64) []complex128 {
	if ratio < 1 {
		ratio = 1
	}
	out := make([]complex128, int(math.Round(float64(len(seq))*ratio)))
	for k := range out {
		idx := int(float64(k) / ratio)
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		out[k] = seq[idx]
	}
	return out
}
