package dsp

import (
	"fmt"
	"math/cmplx"
	"sort"
)

// ReferenceSymbols is the disclosed subset of one subframe: emitted symbol
// values and their positions local to that subframe.
type ReferenceSymbols struct {
	Indices []int
	Symbols []complex128
}

// SymbolStream is the aligned output of a run: the concatenation of all
// subframes after global phase correction, and the rotation each subframe
// received.
type SymbolStream struct {
	Symbols []complex128
	Angles  []float64 // per subframe, ascending index
}

// AlignGlobalPhase estimates one global rotation per subframe from its
// reference subset, applies it, and concatenates the aligned subframes in
// ascending index order. The rotation comes in closed form from the complex
// covariance c between received and reference symbols: θ = −arg(c), which
// maximizes the real part of the post-rotation covariance and leaves its
// magnitude unchanged. Every subframe must have a usable reference subset.
func AlignGlobalPhase(subframes []SubframeResult, refs map[int]ReferenceSymbols) (*SymbolStream, error) {
	ordered := append([]SubframeResult(nil), subframes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	total := 0
	for _, sf := range ordered {
		total += len(sf.Symbols)
	}
	stream := &SymbolStream{
		Symbols: make([]complex128, 0, total),
		Angles:  make([]float64, len(ordered)),
	}

	for i, sf := range ordered {
		ref, ok := refs[sf.Index]
		if !ok {
			return nil, &IncompleteReferenceError{Subframe: sf.Index, Have: 0, Want: 2}
		}
		if len(ref.Indices) != len(ref.Symbols) || len(ref.Indices) < 2 {
			return nil, &IncompleteReferenceError{Subframe: sf.Index, Have: min(len(ref.Indices), len(ref.Symbols)), Want: 2}
		}

		local := make([]complex128, len(ref.Indices))
		for k, idx := range ref.Indices {
			if idx < 0 || idx >= len(sf.Symbols) {
				return nil, fmt.Errorf("subframe %d: reference index %d outside %d symbols: %w",
					sf.Index, idx, len(sf.Symbols), ErrIncompleteReference)
			}
			local[k] = sf.Symbols[idx]
		}

		theta := -cmplx.Phase(complexCovariance(local, ref.Symbols))
		stream.Angles[i] = theta
		rot := cmplx.Rect(1, theta)
		for _, v := range sf.Symbols {
			stream.Symbols = append(stream.Symbols, v*rot)
		}
	}
	return stream, nil
}

// Align rotates the result's subframes onto the reference subsets and
// returns the concatenated symbol stream with the per-subframe angles.
func (res *Result) Align(refs map[int]ReferenceSymbols) (*SymbolStream, error) {
	return AlignGlobalPhase(res.Subframes, refs)
}

// complexCovariance is the mean-removed covariance Σ(a−ā)·conj(b−b̄)/(n−1).
func complexCovariance(a, b []complex128) complex128 {
	n := complex(float64(len(a)), 0)
	var meanA, meanB complex128
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var sum complex128
	for i := range a {
		sum += (a[i] - meanA) * cmplx.Conj(b[i]-meanB)
	}
	return sum / (n - 1)
}
