// Package dsp implements the receiver-side demodulation engine for a
// continuous-variable quantum key distribution link. A raw ADC capture goes
// in; out come the quantum symbols, one batch per subframe, together with
// the clock, carrier and synchronization measurements needed to audit the
// run or to replay its exact transform on calibration captures.
//
// The pipeline operates offline on a full frame capture: coarse burst
// detection, pilot-based clock and carrier recovery, Zadoff-Chu frame
// synchronization, then per-subframe matched filtering, symbol sampling and
// pilot-referenced phase correction. Subframes are independent and are
// demodulated concurrently.
package dsp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qosst/qosst-bob/config"
)

// SampleBuffer is a complex baseband capture tagged with the rate it was
// acquired at.
type SampleBuffer struct {
	Samples []complex128
	Rate    float64 // Hz
}

// Capability describes the hardware topology the strategy selection keys
// on: whether emitter and receiver run from one clock, and whether the
// emitter laser is transmitted for use as the receiver's local oscillator.
type Capability struct {
	SharedClock bool
	SharedLO    bool
}

// DebugParams is the fixed-shape record of everything a run measured or
// assumed. It is the full parameter set needed to reproduce the run's
// transform on another capture, plus audit fields. Every variant fills the
// same shape; fields a variant does not measure keep their nominal values.
type DebugParams struct {
	RunID   string
	Variant string

	ClockRatio       float64
	ClockFallback    bool
	PilotFrequencies [2]float64
	Beat             float64
	SubframeBeats    []float64

	FrequencyShift float64
	SymbolRate     float64
	SampleRate     float64
	DACRate        float64
	RollOff        float64

	SyncStart      int
	SyncEnd        int
	DataStart      int
	DataEnd        int
	SyncConfidence float64

	Elapsed time.Duration
}

// Result is the output of one pipeline run.
type Result struct {
	Subframes []SubframeResult
	Debug     DebugParams
}

// demodVariant is one capability-specific demodulation strategy. All
// variants share the stage primitives and differ in which estimation stages
// they run.
type demodVariant interface {
	name() string
	demodulate(r *run) ([]SubframeResult, error)
}

// variants is the strategy registry, resolved once when the pipeline is
// built.
var variants = map[Capability]demodVariant{
	{SharedClock: false, SharedLO: false}: generalVariant{},
	{SharedClock: true, SharedLO: false}:  sharedClockVariant{},
	{SharedClock: false, SharedLO: true}:  transmittedLOVariant{},
	{SharedClock: true, SharedLO: true}:   directVariant{},
}

// Pipeline is a reusable demodulation engine for one configuration. It is
// safe for concurrent use; every Run gets its own state.
type Pipeline struct {
	cfg        *config.Config
	logger     *log.Logger
	estimator  Estimator
	correlator Correlator
	variant    demodVariant
	workers    int
	zcRef      []complex128 // synchronization sequence at the ADC rate
	rrc        []float64    // matched filter taps
	excl       []Band
}

// Option adjusts a Pipeline at construction time.
type Option func(*Pipeline)

// WithLogger routes the pipeline's logging through the given logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithWorkers caps the number of concurrent subframe workers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// New builds a pipeline for the given configuration, resolving the
// demodulation strategy from the clock and local-oscillator topology.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	capability := Capability{
		SharedClock: cfg.Clock.Shared,
		SharedLO:    cfg.LocalOscillator.Shared,
	}
	variant, ok := variants[capability]
	if !ok {
		return nil, fmt.Errorf("no demodulation strategy for %+v", capability)
	}

	zc := ZadoffChu(cfg.Frame.ZadoffChu.Root, cfg.Frame.ZadoffChu.Length)

	p := &Pipeline{
		cfg:        cfg,
		logger:     log.Default(),
		estimator:  Estimator{MinSNR: cfg.Bob.DSP.ToneSNRThreshold},
		correlator: Correlator{MinConfidence: cfg.Bob.DSP.CorrelationThreshold},
		variant:    variant,
		workers:    cfg.Bob.DSP.Workers,
		zcRef:      UpsampleHold(zc, cfg.SyncUpsampleRatio()),
		rrc:        RootRaisedCosine(cfg.SPS(), cfg.Frame.Quantum.RollOff),
	}
	for _, zone := range cfg.Bob.DSP.ExclusionZones {
		p.excl = append(p.excl, Band{Low: zone[0], High: zone[1]})
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	return p, nil
}

// run is the per-invocation state threaded through the pipeline stages.
type run struct {
	p   *Pipeline
	ctx context.Context
	log *log.Logger

	buf  []complex128 // clock-corrected capture
	rate float64      // nominal rate of buf

	approx         int // coarse burst position
	clock          ClockEstimate
	syncStart      int
	dataStart      int
	dataEnd        int
	syncConfidence float64
}

// Run demodulates one frame capture. The capture is read, never modified.
// The context is checked between stages and cancels in-flight subframe
// workers.
func (p *Pipeline) Run(ctx context.Context, buf SampleBuffer) (*Result, error) {
	started := time.Now()
	if buf.Rate != p.cfg.Bob.ADCRate {
		return nil, fmt.Errorf("capture rate %g does not match configured ADC rate %g", buf.Rate, p.cfg.Bob.ADCRate)
	}
	if len(buf.Samples) < len(p.zcRef) {
		return nil, fmt.Errorf("capture of %d samples is shorter than the synchronization sequence (%d)", len(buf.Samples), len(p.zcRef))
	}

	runID := uuid.NewString()
	r := &run{
		p:    p,
		ctx:  ctx,
		log:  p.logger.With("run", runID, "variant", p.variant.name()),
		buf:  buf.Samples,
		rate: buf.Rate,
	}

	r.approx = coarseEnergyPeak(r.buf, p.cfg.Bob.DSP.CoarseWindowRatio)
	r.log.Debug("coarse burst position", "sample", r.approx)

	subframes, err := p.variant.demodulate(r)
	if err != nil {
		metrics.recordRun("error", time.Since(started))
		return nil, err
	}

	beats := make([]float64, len(subframes))
	for i, sf := range subframes {
		beats[i] = sf.Beat
	}

	result := &Result{
		Subframes: subframes,
		Debug: DebugParams{
			RunID:            runID,
			Variant:          p.variant.name(),
			ClockRatio:       r.clock.Ratio,
			ClockFallback:    r.clock.Fallback,
			PilotFrequencies: r.clock.Pilots,
			Beat:             r.clock.Beat,
			SubframeBeats:    beats,
			FrequencyShift:   p.cfg.Frame.Quantum.FrequencyShift,
			SymbolRate:       p.cfg.Frame.Quantum.SymbolRate,
			SampleRate:       p.cfg.Bob.ADCRate,
			DACRate:          p.cfg.Alice.DACRate,
			RollOff:          p.cfg.Frame.Quantum.RollOff,
			SyncStart:        r.syncStart,
			SyncEnd:          r.syncStart + len(p.zcRef),
			DataStart:        r.dataStart,
			DataEnd:          r.dataEnd,
			SyncConfidence:   r.syncConfidence,
			Elapsed:          time.Since(started),
		},
	}

	metrics.recordRun("ok", result.Debug.Elapsed)
	r.log.Info("frame demodulated",
		"subframes", len(subframes),
		"ratio", r.clock.Ratio,
		"beat", r.clock.Beat,
		"confidence", r.syncConfidence,
		"elapsed", result.Debug.Elapsed)
	return result, nil
}

// window returns the buffer slice of at most length samples starting at
// start, clamped to the buffer. A non-positive length means to the end.
func (r *run) window(start, length int) []complex128 {
	if start < 0 {
		start = 0
	}
	if start > len(r.buf) {
		start = len(r.buf)
	}
	end := len(r.buf)
	if length > 0 && start+length < end {
		end = start + length
	}
	return r.buf[start:end]
}

func (r *run) exclusions() []Band { return r.p.excl }

// plan lays out the subframe windows from the synchronized data origin.
func (r *run) plan() []SubframeWindow {
	return PlanSubframes(
		r.p.cfg.Frame.Quantum.NumSymbols,
		r.p.cfg.Bob.DSP.SubframeSize,
		r.p.cfg.SPS(),
		r.dataStart,
	)
}

// demodulateAll fans the planned subframes out over the worker pool.
// Results land in their window's slot, so the output order is the plan
// order regardless of scheduling.
func (r *run) demodulateAll(plan []SubframeWindow, opts demodOptions) ([]SubframeResult, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("no subframes planned: data origin %d leaves no symbols", r.dataStart)
	}
	results := make([]SubframeResult, len(plan))

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.p.workers)
	for _, win := range plan {
		win := win
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.demodulateSubframe(win, opts)
			if err != nil {
				return err
			}
			results[win.Index] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// generalVariant handles the full problem: independent clocks and an
// independent local oscillator. Clock mismatch is recovered from the pilot
// pair, the beat is tracked globally and per subframe, and symbols get
// pilot-referenced phase correction.
type generalVariant struct{}

func (generalVariant) name() string { return "general" }

func (generalVariant) demodulate(r *run) ([]SubframeResult, error) {
	if err := r.recoverClock(); err != nil {
		return nil, err
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.synchronize(true); err != nil {
		return nil, err
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	return r.demodulateAll(r.plan(), demodOptions{trackBeat: true, correctPhase: true})
}

// sharedClockVariant trusts the common clock (ratio pinned to one) and only
// tracks the carrier beat.
type sharedClockVariant struct{}

func (sharedClockVariant) name() string { return "shared-clock" }

func (sharedClockVariant) demodulate(r *run) ([]SubframeResult, error) {
	cfg := &r.p.cfg.Bob.DSP
	nominal := r.p.cfg.Frame.Pilots.Frequencies[0]
	r.clock = ClockEstimate{Ratio: 1}

	window := r.window(r.approx+2*len(r.p.zcRef), cfg.ClockEstimationSamples)
	tone, err := r.p.estimator.Near(window, r.rate, nominal, cfg.PilotSearchSpan, r.exclusions())
	switch {
	case err == nil:
		r.clock.Beat = tone.Frequency - nominal
		r.clock.Pilots[0] = tone.Frequency
	case cfg.AbortClockRecovery && errors.Is(err, ErrToneNotFound):
		r.clock.Fallback = true
		r.clock.Pilots[0] = nominal
		r.log.Warn("beat estimation aborted, using nominal pilot frequency", "err", err)
		metrics.recordToneFallback()
	default:
		return nil, fmt.Errorf("beat estimation: %w", err)
	}
	metrics.recordClock(1, r.clock.Beat)

	if err := r.synchronize(true); err != nil {
		return nil, err
	}
	return r.demodulateAll(r.plan(), demodOptions{trackBeat: true, correctPhase: true})
}

// transmittedLOVariant handles an independent clock with the emitter laser
// reused as local oscillator: no carrier beat exists, and the clock
// mismatch is fitted from the phase drift of a single pilot. Phase noise
// picked up along the channel is still corrected against that pilot.
type transmittedLOVariant struct{}

func (transmittedLOVariant) name() string { return "transmitted-lo" }

func (transmittedLOVariant) demodulate(r *run) ([]SubframeResult, error) {
	cfg := &r.p.cfg.Bob.DSP
	nominal := r.p.cfg.Frame.Pilots.Frequencies[0]

	window := r.window(r.approx+2*len(r.p.zcRef), cfg.ClockEstimationSamples)
	ratio := onePilotClockRatio(window, nominal, r.rate, cfg.FIRSize, cfg.ToneCutoff)
	if cfg.MaxClockMismatch > 0 && math.Abs(1-ratio) > cfg.MaxClockMismatch {
		r.log.Warn("clock mismatch over limit, keeping nominal rate",
			"ratio", ratio, "limit", cfg.MaxClockMismatch)
		metrics.recordClockReject()
		ratio = 1
	}
	if ratio != 1 {
		r.buf = Resample(r.buf, ratio)
		r.approx = int(float64(r.approx) * ratio)
	}
	r.clock = ClockEstimate{Ratio: ratio, Pilots: [2]float64{nominal}}
	metrics.recordClock(ratio, 0)

	if err := r.synchronize(false); err != nil {
		return nil, err
	}
	return r.demodulateAll(r.plan(), demodOptions{correctPhase: true})
}

// directVariant handles the fully shared topology: no clock or carrier
// estimation, straight to synchronization and matched filtering. The pilot
// still serves as the phase reference for the relative correction.
type directVariant struct{}

func (directVariant) name() string { return "direct" }

func (directVariant) demodulate(r *run) ([]SubframeResult, error) {
	r.clock = ClockEstimate{Ratio: 1}
	r.clock.Pilots[0] = r.p.cfg.Frame.Pilots.Frequencies[0]
	if err := r.synchronize(false); err != nil {
		return nil, err
	}
	return r.demodulateAll(r.plan(), demodOptions{correctPhase: true})
}
