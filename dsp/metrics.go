package dsp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics aggregates the Prometheus collectors of the demodulation
// engine. One instance is registered with the default registry when the
// package loads; serving it is the embedding application's business.
type engineMetrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	subframesTotal prometheus.Counter
	toneFallbacks  prometheus.Counter
	clockRejects   prometheus.Counter
	replaysTotal   prometheus.Counter
	clockRatio     prometheus.Gauge
	beatFrequency  prometheus.Gauge
	syncConfidence prometheus.Gauge
}

var metrics = newEngineMetrics()

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qosst_dsp_runs_total",
			Help: "Demodulation runs by outcome",
		}, []string{"outcome"}),
		runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "qosst_dsp_run_duration_seconds",
			Help:    "Wall time of one frame demodulation",
			Buckets: prometheus.DefBuckets,
		}),
		subframesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qosst_dsp_subframes_total",
			Help: "Subframes demodulated",
		}),
		toneFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qosst_dsp_tone_fallbacks_total",
			Help: "Tone searches downgraded to nominal frequencies",
		}),
		clockRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qosst_dsp_clock_rejects_total",
			Help: "Clock estimates rejected by the mismatch limit",
		}),
		replaysTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qosst_dsp_replays_total",
			Help: "Calibration captures demodulated with recorded parameters",
		}),
		clockRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "qosst_dsp_clock_ratio",
			Help: "Last measured clock mismatch ratio",
		}),
		beatFrequency: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "qosst_dsp_beat_frequency_hz",
			Help: "Last measured pilot beat frequency",
		}),
		syncConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "qosst_dsp_sync_confidence",
			Help: "Last normalized synchronization correlation peak",
		}),
	}
}

func (m *engineMetrics) recordRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *engineMetrics) recordSubframe(beat float64) {
	if m == nil {
		return
	}
	m.subframesTotal.Inc()
	m.beatFrequency.Set(beat)
}

func (m *engineMetrics) recordClock(ratio, beat float64) {
	if m == nil {
		return
	}
	m.clockRatio.Set(ratio)
	m.beatFrequency.Set(beat)
}

func (m *engineMetrics) recordClockReject() {
	if m == nil {
		return
	}
	m.clockRejects.Inc()
}

func (m *engineMetrics) recordToneFallback() {
	if m == nil {
		return
	}
	m.toneFallbacks.Inc()
}

func (m *engineMetrics) recordSync(confidence float64) {
	if m == nil {
		return
	}
	m.syncConfidence.Set(confidence)
}

func (m *engineMetrics) recordReplay() {
	if m == nil {
		return
	}
	m.replaysTotal.Inc()
}
