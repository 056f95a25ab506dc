package dsp

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSymbols(rng *rand.Rand, n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return out
}

func rotated(symbols []complex128, theta float64) []complex128 {
	rot := cmplx.Rect(1, theta)
	out := make([]complex128, len(symbols))
	for i, v := range symbols {
		out[i] = v * rot
	}
	return out
}

func refSubset(symbols []complex128, count int) ReferenceSymbols {
	ref := ReferenceSymbols{
		Indices: make([]int, count),
		Symbols: make([]complex128, count),
	}
	for i := 0; i < count; i++ {
		ref.Indices[i] = i
		ref.Symbols[i] = symbols[i]
	}
	return ref
}

func TestAlignRecoversKnownRotation(t *testing.T) {
	sent := randomSymbols(rand.New(rand.NewSource(61)), 500)
	const theta = 0.7

	subframes := []SubframeResult{{Index: 0, Symbols: rotated(sent, theta)}}
	refs := map[int]ReferenceSymbols{0: refSubset(sent, 50)}

	stream, err := AlignGlobalPhase(subframes, refs)
	require.NoError(t, err)
	require.Len(t, stream.Angles, 1)
	assert.InDelta(t, -theta, stream.Angles[0], 1e-9)

	require.Len(t, stream.Symbols, len(sent))
	for i := range sent {
		assert.InDelta(t, real(sent[i]), real(stream.Symbols[i]), 1e-9, "symbol %d", i)
		assert.InDelta(t, imag(sent[i]), imag(stream.Symbols[i]), 1e-9, "symbol %d", i)
	}
}

func TestAlignMakesCovarianceRealPositive(t *testing.T) {
	// The closed-form angle maximizes the real part of the covariance;
	// after rotation the covariance must be its own pre-rotation
	// magnitude.
	rng := rand.New(rand.NewSource(62))
	sent := randomSymbols(rng, 300)
	received := rotated(sent, -1.9)
	addNoise(rng, received, 0.05)

	pre := complexCovariance(received, sent)

	stream, err := AlignGlobalPhase(
		[]SubframeResult{{Index: 0, Symbols: received}},
		map[int]ReferenceSymbols{0: refSubsetAll(sent)},
	)
	require.NoError(t, err)

	post := complexCovariance(stream.Symbols, sent)
	assert.InDelta(t, cmplx.Abs(pre), real(post), 1e-9)
	assert.InDelta(t, 0, imag(post), 1e-9)
}

func refSubsetAll(symbols []complex128) ReferenceSymbols {
	return refSubset(symbols, len(symbols))
}

func TestAlignOrdersSubframesByIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(63))
	first := randomSymbols(rng, 100)
	second := randomSymbols(rng, 100)

	// Results arrive in completion order, not frame order.
	subframes := []SubframeResult{
		{Index: 1, Symbols: rotated(second, -0.4)},
		{Index: 0, Symbols: rotated(first, 1.2)},
	}
	refs := map[int]ReferenceSymbols{
		0: refSubset(first, 20),
		1: refSubset(second, 20),
	}

	stream, err := AlignGlobalPhase(subframes, refs)
	require.NoError(t, err)
	require.Len(t, stream.Symbols, 200)
	require.Len(t, stream.Angles, 2)
	assert.InDelta(t, -1.2, stream.Angles[0], 1e-9)
	assert.InDelta(t, 0.4, stream.Angles[1], 1e-9)

	for i := range first {
		assert.InDelta(t, real(first[i]), real(stream.Symbols[i]), 1e-9)
	}
	for i := range second {
		assert.InDelta(t, real(second[i]), real(stream.Symbols[100+i]), 1e-9)
	}
}

func TestAlignReferenceFailures(t *testing.T) {
	sent := randomSymbols(rand.New(rand.NewSource(64)), 50)
	subframes := []SubframeResult{{Index: 3, Symbols: sent}}

	t.Run("missing subset", func(t *testing.T) {
		_, err := AlignGlobalPhase(subframes, map[int]ReferenceSymbols{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIncompleteReference)

		var ire *IncompleteReferenceError
		require.ErrorAs(t, err, &ire)
		assert.Equal(t, 3, ire.Subframe)
	})

	t.Run("too few symbols", func(t *testing.T) {
		refs := map[int]ReferenceSymbols{3: refSubset(sent, 1)}
		_, err := AlignGlobalPhase(subframes, refs)
		assert.ErrorIs(t, err, ErrIncompleteReference)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		refs := map[int]ReferenceSymbols{3: {
			Indices: []int{0, 1, 2},
			Symbols: sent[:2],
		}}
		_, err := AlignGlobalPhase(subframes, refs)
		assert.ErrorIs(t, err, ErrIncompleteReference)
	})

	t.Run("index outside subframe", func(t *testing.T) {
		refs := map[int]ReferenceSymbols{3: {
			Indices: []int{0, 50},
			Symbols: sent[:2],
		}}
		_, err := AlignGlobalPhase(subframes, refs)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIncompleteReference)
		assert.Contains(t, err.Error(), "outside")
	})
}
