// Package sim synthesizes emitter-side frames so the demodulation chain can
// be exercised end to end without hardware. A generated capture carries the
// same structure a real acquisition has: lead-in silence, the stretched
// Zadoff-Chu marker at full amplitude, then pulse-shaped Gaussian symbols
// mixed to the configured shift with pilot tones on top.
package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/qosst/qosst-bob/config"
	"github.com/qosst/qosst-bob/dsp"
)

const (
	leadSilence = 2048
	tailSilence = 512

	// The synchronization burst is emitted at full scale while the
	// quantum data is orders of magnitude weaker; the coarse burst
	// detector relies on that contrast. The simulator keeps the same
	// hierarchy at tamer levels.
	zcAmplitude    = 4.0
	pilotAmplitude = 1.0
)

// Impairments describes the channel and hardware defects applied to a
// generated frame. The zero value is a clean capture.
type Impairments struct {
	// ClockSkew is the ratio between the emitter clock as seen by the
	// receiver and its nominal value. Zero or one means both clocks
	// agree.
	ClockSkew float64

	// Beat is the residual carrier offset between the signal and the
	// receiver local oscillator, in Hz.
	Beat float64

	// NoiseStd is the standard deviation of additive Gaussian noise per
	// quadrature.
	NoiseStd float64

	// SuppressPilots emits the frame without pilot tones, for
	// exercising the recovery fallbacks.
	SuppressPilots bool

	// Seed drives symbol and noise generation. Equal seeds yield equal
	// frames.
	Seed int64
}

// Frame is a synthetic capture together with the ground truth it encodes.
// Positions are on the nominal sample grid, which is also the grid the
// receiver reports on after clock correction.
type Frame struct {
	Samples []complex128
	Rate    float64

	Symbols   []complex128 // transmitted symbols, one per symbol slot
	SyncStart int          // first sample of the Zadoff-Chu marker
	DataStart int          // first sample after the marker
}

// Generate builds one frame from the shared link configuration. Impairments
// are applied in channel order: carrier beat on the whole emission, clock
// skew by resampling, then receiver noise. Symbol generation requires the
// ADC rate to be an integer multiple of the symbol rate so the pulse train
// can be laid out exactly.
func Generate(cfg *config.Config, imp Impairments) (*Frame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sps := cfg.SPS()
	if sps != math.Trunc(sps) {
		return nil, fmt.Errorf("sample rate %g is not an integer multiple of symbol rate %g",
			cfg.Bob.ADCRate, cfg.Frame.Quantum.SymbolRate)
	}
	rate := cfg.Bob.ADCRate
	rng := rand.New(rand.NewSource(imp.Seed))

	symbols := make([]complex128, cfg.Frame.Quantum.NumSymbols)
	for i := range symbols {
		symbols[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}

	zc := dsp.UpsampleHold(
		dsp.ZadoffChu(cfg.Frame.ZadoffChu.Root, cfg.Frame.ZadoffChu.Length),
		cfg.SyncUpsampleRatio(),
	)
	for i := range zc {
		zc[i] *= complex(zcAmplitude, 0)
	}

	step := int(sps)
	train := make([]complex128, len(symbols)*step)
	for i, s := range symbols {
		train[i*step] = s
	}
	data := dsp.ConvolveSameReal(train, dsp.RootRaisedCosine(sps, cfg.Frame.Quantum.RollOff))
	data = dsp.MixExp(data, cfg.Frame.Quantum.FrequencyShift, rate)
	if !imp.SuppressPilots {
		for _, f := range cfg.Frame.Pilots.Frequencies {
			w := 2 * math.Pi * f / rate
			for k := range data {
				s, c := math.Sincos(w * float64(k))
				data[k] += complex(pilotAmplitude*c, pilotAmplitude*s)
			}
		}
	}

	frame := make([]complex128, 0, leadSilence+len(zc)+len(data)+tailSilence)
	frame = append(frame, make([]complex128, leadSilence)...)
	syncStart := len(frame)
	frame = append(frame, zc...)
	dataStart := len(frame)
	frame = append(frame, data...)
	frame = append(frame, make([]complex128, tailSilence)...)

	if imp.Beat != 0 {
		frame = dsp.MixExp(frame, imp.Beat, rate)
	}
	if imp.ClockSkew != 0 && imp.ClockSkew != 1 {
		frame = dsp.Resample(frame, 1/imp.ClockSkew)
	}
	if imp.NoiseStd > 0 {
		for k := range frame {
			frame[k] += complex(rng.NormFloat64()*imp.NoiseStd, rng.NormFloat64()*imp.NoiseStd)
		}
	}

	return &Frame{
		Samples:   frame,
		Rate:      rate,
		Symbols:   symbols,
		SyncStart: syncStart,
		DataStart: dataStart,
	}, nil
}

// References extracts per-subframe reference slices for global phase
// alignment: for each window of the plan, the first count transmitted
// symbols it covers.
func (f *Frame) References(plan []dsp.SubframeWindow, count int) map[int]dsp.ReferenceSymbols {
	refs := make(map[int]dsp.ReferenceSymbols, len(plan))
	for _, win := range plan {
		n := count
		if n > win.Symbols {
			n = win.Symbols
		}
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		refs[win.Index] = dsp.ReferenceSymbols{
			Indices: indices,
			Symbols: f.Symbols[win.SymbolOffset : win.SymbolOffset+n],
		}
	}
	return refs
}
