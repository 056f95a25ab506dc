package dsp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replayParams() DebugParams {
	return DebugParams{
		ClockRatio:     1,
		FrequencyShift: 100,
		SymbolRate:     50,
		SampleRate:     1000,
		RollOff:        0.5,
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	buf := SampleBuffer{Samples: make([]complex128, 2000), Rate: 1000}
	addNoise(rand.New(rand.NewSource(81)), buf.Samples, 1)

	params := replayParams()
	params.ClockRatio = 1.0013
	params.SubframeBeats = []float64{1.9, 2.1, 2.0}

	first, err := Replay(buf, params)
	require.NoError(t, err)
	second, err := Replay(buf, params)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestReplayRecoversShiftedCarrier(t *testing.T) {
	// A pure tone at the recorded shift frequency demodulates to a
	// constant stream: the replay transform moved it to DC and the
	// matched filter passed it.
	params := replayParams()
	params.SubframeBeats = []float64{2, 2}

	buf := SampleBuffer{Samples: testTone(2000, 102, 1000, 1), Rate: 1000}
	out, err := Replay(buf, params)
	require.NoError(t, err)
	require.Len(t, out, 100)

	mid := out[50]
	assert.Greater(t, real(mid)*real(mid)+imag(mid)*imag(mid), 0.01)
	for i := 10; i < 90; i++ {
		assert.InDelta(t, real(mid), real(out[i]), 1e-6, "symbol %d", i)
		assert.InDelta(t, imag(mid), imag(out[i]), 1e-6, "symbol %d", i)
	}
}

func TestReplayResamplesByRecordedRatio(t *testing.T) {
	buf := SampleBuffer{Samples: make([]complex128, 2000), Rate: 1000}
	addNoise(rand.New(rand.NewSource(82)), buf.Samples, 0.5)

	params := replayParams()
	out, err := Replay(buf, params)
	require.NoError(t, err)
	assert.Len(t, out, 100)

	params.ClockRatio = 1.001
	out, err = Replay(buf, params)
	require.NoError(t, err)
	assert.Len(t, out, 101, "resampling must stretch the grid before decimation")
}

func TestReplayParameterChecks(t *testing.T) {
	buf := SampleBuffer{Samples: make([]complex128, 100), Rate: 1000}

	t.Run("rate mismatch", func(t *testing.T) {
		params := replayParams()
		params.SampleRate = 900
		_, err := Replay(buf, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("no rates recorded", func(t *testing.T) {
		params := replayParams()
		params.SymbolRate = 0
		_, err := Replay(buf, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no usable rates")
	})

	t.Run("empty capture", func(t *testing.T) {
		out, err := Replay(SampleBuffer{Rate: 1000}, replayParams())
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}
