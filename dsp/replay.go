package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Replay demodulates an auxiliary capture with the exact transform of a
// finished run: no estimation happens, the recorded parameters drive every
// step. Calibration captures (electronic noise, shot noise) thereby see the
// same resampling, frequency shift and matched filter the quantum data saw,
// keeping their noise statistics comparable. Identical inputs always
// produce identical output.
func Replay(buf SampleBuffer, params DebugParams) ([]complex128, error) {
	if buf.Rate != params.SampleRate {
		return nil, fmt.Errorf("capture rate %g does not match recorded rate %g", buf.Rate, params.SampleRate)
	}
	if params.SymbolRate <= 0 || params.SampleRate <= 0 {
		return nil, fmt.Errorf("replay parameters carry no usable rates")
	}
	if len(buf.Samples) == 0 {
		return nil, nil
	}

	samples := buf.Samples
	if params.ClockRatio != 0 && params.ClockRatio != 1 {
		samples = Resample(samples, params.ClockRatio)
	}

	shift := params.FrequencyShift
	if len(params.SubframeBeats) > 0 {
		shift += stat.Mean(params.SubframeBeats, nil)
	}

	sps := params.SampleRate / params.SymbolRate
	baseband := MixExp(samples, -shift, params.SampleRate)
	filtered := ConvolveSameReal(baseband, RootRaisedCosine(sps, params.RollOff))
	scale := complex(1/math.Sqrt(sps), 0)
	for i := range filtered {
		filtered[i] *= scale
	}

	metrics.recordReplay()
	return Downsample(filtered, 0, sps, -1), nil
}
