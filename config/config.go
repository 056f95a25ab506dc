// Package config loads and validates the receiver configuration shared by
// the DSP engine and its tooling. The YAML layout follows the emitter
// configuration: frame description (quantum data, pilots, synchronization
// sequence), hardware rates, clock/local-oscillator topology and the DSP
// tuning section.
package config

import (
	"fmt"
	"os"

	version "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// configVersionConstraint bounds the configuration schema versions this
// build understands. Configurations written for other schema generations
// are rejected at load time.
const configVersionConstraint = ">= 0.9, < 1.0"

// Config represents the full receiver configuration document.
type Config struct {
	Version         string       `yaml:"config_version"`
	Frame           FrameConfig  `yaml:"frame"`
	Alice           AliceConfig  `yaml:"alice"`
	Bob             BobConfig    `yaml:"bob"`
	Clock           ClockConfig  `yaml:"clock"`
	LocalOscillator LOConfig     `yaml:"local_oscillator"`
}

// FrameConfig describes the emitted frame layout.
type FrameConfig struct {
	Quantum   QuantumConfig   `yaml:"quantum"`
	Pilots    PilotsConfig    `yaml:"pilots"`
	ZadoffChu ZadoffChuConfig `yaml:"zadoff_chu"`
}

// QuantumConfig describes the quantum data portion of the frame.
type QuantumConfig struct {
	SymbolRate     float64 `yaml:"symbol_rate"`     // Symbols per second
	RollOff        float64 `yaml:"roll_off"`        // Root-raised-cosine roll-off factor
	FrequencyShift float64 `yaml:"frequency_shift"` // Center frequency of the data band in Hz
	NumSymbols     int     `yaml:"num_symbols"`     // Symbols per frame
}

// PilotsConfig lists the reference tones multiplexed with the data.
type PilotsConfig struct {
	Frequencies []float64 `yaml:"frequencies"` // Nominal pilot frequencies in Hz, ascending
}

// ZadoffChuConfig describes the synchronization sequence. The sequence is
// emitted at the DAC rate, one chip per DAC sample.
type ZadoffChuConfig struct {
	Root   int `yaml:"root"`
	Length int `yaml:"length"`
}

// AliceConfig carries the emitter hardware parameters the receiver needs.
type AliceConfig struct {
	DACRate float64 `yaml:"dac_rate"` // Emitter DAC sample rate in Hz
}

// BobConfig carries the receiver hardware parameters and DSP tuning.
type BobConfig struct {
	ADCRate float64   `yaml:"adc_rate"` // Receiver ADC sample rate in Hz
	DSP     DSPConfig `yaml:"dsp"`
}

// ClockConfig describes the clock topology between emitter and receiver.
type ClockConfig struct {
	Shared bool `yaml:"shared"` // True when both sides run from one clock
}

// LOConfig describes the local-oscillator topology.
type LOConfig struct {
	Shared bool `yaml:"shared"` // True when the emitter laser is transmitted and reused
}

// DSPConfig tunes the demodulation pipeline. Zero values select the
// defaults applied by Load.
type DSPConfig struct {
	SubframeSize           int          `yaml:"subframe_size"`            // Symbols per subframe (0 = whole frame at once)
	FIRSize                int          `yaml:"fir_size"`                 // Taps in the pilot recovery filter (default: 500)
	ToneCutoff             float64      `yaml:"tone_cutoff"`              // Pilot filter bandwidth in Hz (default: 10 MHz)
	ToneSNRThreshold       float64      `yaml:"tone_snr_threshold"`       // Minimum tone SNR over the noise floor in dB (default: 6)
	CorrelationThreshold   float64      `yaml:"correlation_threshold"`    // Minimum normalized sync correlation peak (default: 0.2)
	PilotSearchSpan        float64      `yaml:"pilot_search_span"`        // Half-width of the per-subframe pilot search band in Hz (default: 5 MHz)
	ExclusionZones         [][2]float64 `yaml:"exclusion_zones"`          // Frequency bands ignored during tone search, [low, high] in Hz
	PhaseFilterSize        int          `yaml:"phase_filter_size"`        // Moving-average length for pilot phase smoothing (0 = off)
	ClockEstimationSamples int          `yaml:"clock_estimation_samples"` // Window for the global clock estimate (default: 10e6)
	BeatEstimationSamples  int          `yaml:"beat_estimation_samples"`  // Window for the beat refinement (default: 100e3)
	AbortClockRecovery     bool         `yaml:"abort_clock_recovery"`     // Fall back to nominal frequencies when pilots are not found
	MaxClockMismatch       float64      `yaml:"max_clock_mismatch"`       // Reject clock ratios farther than this from 1 (0 = unchecked)
	CoarseWindowRatio      int          `yaml:"coarse_window_ratio"`      // Buffer-length divisor for the coarse envelope window (default: 50)
	Workers                int          `yaml:"workers"`                  // Concurrent subframe workers (0 = GOMAXPROCS)

	Equalizer EqualizerConfig `yaml:"equalizer"`
}

// EqualizerConfig tunes the optional constant-modulus equalizer applied to
// recovered symbols.
type EqualizerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Length         int     `yaml:"length"`          // Filter taps (default: 64)
	Step           float64 `yaml:"step"`            // Adaptation step size (default: 1e-3)
	ErrorThreshold float64 `yaml:"error_threshold"` // Early-stop mean error (default: 0.02)
	TargetRadius   float64 `yaml:"target_radius"`   // Constant modulus target (default: 1.0)
}

// Load reads, defaults and validates a configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse defaults and validates a raw YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.checkVersion(); err != nil {
		return nil, err
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// checkVersion rejects configuration documents written for schema
// generations this build does not understand.
func (c *Config) checkVersion() error {
	if c.Version == "" {
		return fmt.Errorf("config_version is required")
	}
	v, err := version.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", c.Version, err)
	}
	constraint, err := version.NewConstraint(configVersionConstraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config_version %s is not supported (want %s)", c.Version, configVersionConstraint)
	}
	return nil
}

// ApplyDefaults fills zero-valued tuning fields with their defaults.
func (c *Config) ApplyDefaults() {
	dsp := &c.Bob.DSP
	if dsp.FIRSize == 0 {
		dsp.FIRSize = 500
	}
	if dsp.ToneCutoff == 0 {
		dsp.ToneCutoff = 10e6
	}
	if dsp.ToneSNRThreshold == 0 {
		dsp.ToneSNRThreshold = 6
	}
	if dsp.CorrelationThreshold == 0 {
		dsp.CorrelationThreshold = 0.2
	}
	if dsp.PilotSearchSpan == 0 {
		dsp.PilotSearchSpan = 5e6
	}
	if dsp.ClockEstimationSamples == 0 {
		dsp.ClockEstimationSamples = 10_000_000
	}
	if dsp.BeatEstimationSamples == 0 {
		dsp.BeatEstimationSamples = 100_000
	}
	if dsp.CoarseWindowRatio == 0 {
		dsp.CoarseWindowRatio = 50
	}

	eq := &dsp.Equalizer
	if eq.Length == 0 {
		eq.Length = 64
	}
	if eq.Step == 0 {
		eq.Step = 1e-3
	}
	if eq.ErrorThreshold == 0 {
		eq.ErrorThreshold = 0.02
	}
	if eq.TargetRadius == 0 {
		eq.TargetRadius = 1.0
	}
}

// Validate checks the configuration for values the pipeline cannot work
// with. It assumes defaults have been applied.
func (c *Config) Validate() error {
	if c.Frame.Quantum.SymbolRate <= 0 {
		return fmt.Errorf("frame.quantum.symbol_rate must be positive")
	}
	if c.Frame.Quantum.RollOff <= 0 || c.Frame.Quantum.RollOff > 1 {
		return fmt.Errorf("frame.quantum.roll_off must be in (0, 1]")
	}
	if c.Frame.Quantum.NumSymbols < 1 {
		return fmt.Errorf("frame.quantum.num_symbols must be at least 1")
	}
	if c.Frame.Quantum.FrequencyShift < 0 {
		return fmt.Errorf("frame.quantum.frequency_shift must not be negative")
	}
	if c.Alice.DACRate <= 0 {
		return fmt.Errorf("alice.dac_rate must be positive")
	}
	if c.Bob.ADCRate <= 0 {
		return fmt.Errorf("bob.adc_rate must be positive")
	}
	if c.Bob.ADCRate < c.Frame.Quantum.SymbolRate {
		return fmt.Errorf("bob.adc_rate must be at least frame.quantum.symbol_rate")
	}
	if c.Bob.ADCRate < c.Alice.DACRate {
		return fmt.Errorf("bob.adc_rate must be at least alice.dac_rate")
	}

	zc := c.Frame.ZadoffChu
	if zc.Length < 2 {
		return fmt.Errorf("frame.zadoff_chu.length must be at least 2")
	}
	if zc.Root < 1 || zc.Root >= zc.Length {
		return fmt.Errorf("frame.zadoff_chu.root must be in [1, length)")
	}
	if gcd(zc.Root, zc.Length) != 1 {
		return fmt.Errorf("frame.zadoff_chu.root must be coprime with length")
	}

	// Every topology needs at least one pilot as the phase reference.
	// Recovering the clock from the tone spacing takes two.
	needed := 1
	if !c.Clock.Shared && !c.LocalOscillator.Shared {
		needed = 2
	}
	if len(c.Frame.Pilots.Frequencies) < needed {
		return fmt.Errorf("frame.pilots.frequencies needs at least %d entries for this topology", needed)
	}
	for i, f := range c.Frame.Pilots.Frequencies {
		if f <= 0 {
			return fmt.Errorf("frame.pilots.frequencies[%d] must be positive", i)
		}
		if i > 0 && f <= c.Frame.Pilots.Frequencies[i-1] {
			return fmt.Errorf("frame.pilots.frequencies must be strictly ascending")
		}
	}

	dsp := c.Bob.DSP
	if dsp.SubframeSize < 0 {
		return fmt.Errorf("bob.dsp.subframe_size must not be negative")
	}
	if dsp.FIRSize < 3 {
		return fmt.Errorf("bob.dsp.fir_size must be at least 3")
	}
	if dsp.CorrelationThreshold < 0 || dsp.CorrelationThreshold >= 1 {
		return fmt.Errorf("bob.dsp.correlation_threshold must be in [0, 1)")
	}
	if dsp.MaxClockMismatch < 0 {
		return fmt.Errorf("bob.dsp.max_clock_mismatch must not be negative")
	}
	if dsp.Workers < 0 {
		return fmt.Errorf("bob.dsp.workers must not be negative")
	}
	for i, zone := range dsp.ExclusionZones {
		if zone[0] >= zone[1] {
			return fmt.Errorf("bob.dsp.exclusion_zones[%d] must be [low, high] with low < high", i)
		}
	}
	return nil
}

// SPS returns the number of ADC samples per symbol.
func (c *Config) SPS() float64 {
	return c.Bob.ADCRate / c.Frame.Quantum.SymbolRate
}

// SyncUpsampleRatio returns the ratio between the ADC rate and the DAC rate
// the synchronization sequence was emitted at.
func (c *Config) SyncUpsampleRatio() float64 {
	return c.Bob.ADCRate / c.Alice.DACRate
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
