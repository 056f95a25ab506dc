package dsp

import (
	"math"
	"math/cmplx"
)

// cmaErrorWindow is how many of the latest training errors feed the
// early-stop mean.
const cmaErrorWindow = 100

// CMAEqualizer is a blind constant-modulus equalizer: a complex FIR adapted
// so that filtered symbols land on a ring of squared radius target. The
// filter starts as a pure delay (last tap one), so an untrained equalizer
// passes symbols through unchanged.
type CMAEqualizer struct {
	weights   []complex128
	step      float64
	target    float64
	threshold float64
}

// NewCMAEqualizer builds an equalizer with the given filter length,
// adaptation step, constant-modulus target and early-stop error threshold.
func NewCMAEqualizer(length int, step, target, threshold float64) *CMAEqualizer {
	if length < 1 {
		length = 1
	}
	w := make([]complex128, length)
	w[length-1] = 1
	return &CMAEqualizer{weights: w, step: step, target: target, threshold: threshold}
}

// Train adapts the weights over the symbol sequence with stochastic
// gradient steps, stopping early once the mean modulus error over the last
// cmaErrorWindow updates falls below the threshold.
func (eq *CMAEqualizer) Train(symbols []complex128) {
	l := len(eq.weights)
	if len(symbols) < l {
		return
	}

	recent := make([]float64, 0, cmaErrorWindow)
	for i := 0; i+l <= len(symbols); i++ {
		x := symbols[i : i+l]
		y := eq.filterAt(x)

		e := real(y)*real(y) + imag(y)*imag(y) - eq.target
		grad := complex(eq.step*e, 0) * cmplx.Conj(y)
		for k := range eq.weights {
			eq.weights[k] -= grad * x[k]
		}

		if len(recent) == cmaErrorWindow {
			recent = recent[1:]
		}
		recent = append(recent, math.Abs(e))
		if len(recent) == cmaErrorWindow && mean(recent) < eq.threshold {
			break
		}
	}
}

// Apply runs the adapted filter across the symbols and returns a sequence
// of the same length. Early outputs see zero-padded history, mirroring the
// pure-delay initialization.
func (eq *CMAEqualizer) Apply(symbols []complex128) []complex128 {
	l := len(eq.weights)
	out := make([]complex128, len(symbols))
	for i := range out {
		var y complex128
		for k, w := range eq.weights {
			j := i - (l - 1) + k
			if j >= 0 && j < len(symbols) {
				y += w * symbols[j]
			}
		}
		out[i] = y
	}
	return out
}

func (eq *CMAEqualizer) filterAt(x []complex128) complex128 {
	var y complex128
	for k, w := range eq.weights {
		y += w * x[k]
	}
	return y
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}
