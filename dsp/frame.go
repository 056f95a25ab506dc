package dsp

import (
	"errors"
	"fmt"
	"math"
)

// SubframeWindow is one entry of the subframe plan: a stretch of the
// corrected buffer carrying a known range of symbols.
type SubframeWindow struct {
	Index        int
	Start        int // first sample, inclusive
	End          int // last sample, exclusive
	SymbolOffset int // index of the first symbol in the frame
	Symbols      int // symbols covered by this window
}

// PlanSubframes divides totalSymbols into windows of size symbols starting
// at the origin sample. Every boundary is derived from the origin alone,
// origin + round(k·size·sps), so rounding errors do not accumulate across
// subframes. A size of zero or more than totalSymbols yields a single
// window. The symbol counts always sum to totalSymbols.
func PlanSubframes(totalSymbols, size int, sps float64, origin int) []SubframeWindow {
	if totalSymbols <= 0 || sps <= 0 {
		return nil
	}
	if size <= 0 || size > totalSymbols {
		size = totalSymbols
	}
	count := (totalSymbols + size - 1) / size
	plan := make([]SubframeWindow, 0, count)
	for k := 0; k < count; k++ {
		offset := k * size
		symbols := size
		if offset+symbols > totalSymbols {
			symbols = totalSymbols - offset
		}
		plan = append(plan, SubframeWindow{
			Index:        k,
			Start:        origin + intRound(float64(offset)*sps),
			End:          origin + intRound(float64(offset+symbols)*sps),
			SymbolOffset: offset,
			Symbols:      symbols,
		})
	}
	return plan
}

// synchronize pins down the frame origin: optionally refine the beat
// estimate on a window past the coarse burst position, remove it, and
// correlate against the upsampled synchronization sequence. On success the
// run's sync and data offsets are set.
func (r *run) synchronize(refineBeat bool) error {
	cfg := &r.p.cfg.Bob.DSP
	l := len(r.p.zcRef)

	if refineBeat {
		nominal := r.p.cfg.Frame.Pilots.Frequencies[0]
		window := r.window(r.approx+l, cfg.BeatEstimationSamples)
		tone, err := r.p.estimator.Near(window, r.rate, nominal+r.clock.Beat, cfg.PilotSearchSpan, r.exclusions())
		switch {
		case err == nil:
			r.clock.Beat = tone.Frequency - nominal
		case cfg.AbortClockRecovery && errors.Is(err, ErrToneNotFound):
			r.log.Warn("beat refinement skipped", "err", err)
			metrics.recordToneFallback()
		default:
			return fmt.Errorf("beat refinement: %w", err)
		}
	}

	lo := r.approx - 2*l
	if lo < 0 {
		lo = 0
	}
	hi := r.approx + 2*l
	if hi > len(r.buf) {
		hi = len(r.buf)
	}
	region := MixExp(r.buf[lo:hi], -r.clock.Beat, r.rate)

	start, conf, err := r.p.correlator.Locate(region, r.p.zcRef, r.approx-lo)
	if err != nil {
		return fmt.Errorf("frame synchronization: %w", err)
	}
	r.syncStart = lo + start
	r.dataStart = r.syncStart + l

	sps := r.p.cfg.SPS()
	span := r.p.cfg.Frame.Quantum.NumSymbols * int(math.Ceil(sps+1))
	r.dataEnd = r.dataStart + span
	if r.dataEnd > len(r.buf) {
		r.dataEnd = len(r.buf)
	}

	r.syncConfidence = conf
	r.log.Debug("frame synchronized",
		"start", r.syncStart, "confidence", conf, "beat", r.clock.Beat)
	metrics.recordSync(conf)
	return nil
}

func intRound(x float64) int {
	return int(math.Floor(x + 0.5))
}
