package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
config_version: "0.9"

frame:
  quantum:
    symbol_rate: 100e6
    roll_off: 0.5
    frequency_shift: 100e6
    num_symbols: 1000000
  pilots:
    frequencies: [200e6, 220e6]
  zadoff_chu:
    root: 5
    length: 3989

alice:
  dac_rate: 500e6

bob:
  adc_rate: 2.5e9
  dsp:
    subframe_size: 50000
    exclusion_zones:
      - [0, 10e6]
    abort_clock_recovery: false

clock:
  shared: false

local_oscillator:
  shared: false
`

func validConfig() *Config {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bob.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100e6, cfg.Frame.Quantum.SymbolRate)
	assert.Equal(t, []float64{200e6, 220e6}, cfg.Frame.Pilots.Frequencies)
	assert.Equal(t, 3989, cfg.Frame.ZadoffChu.Length)
	assert.Equal(t, 2.5e9, cfg.Bob.ADCRate)
	assert.Equal(t, 50000, cfg.Bob.DSP.SubframeSize)
	assert.Equal(t, [][2]float64{{0, 10e6}}, cfg.Bob.DSP.ExclusionZones)
	assert.False(t, cfg.Clock.Shared)
	assert.False(t, cfg.LocalOscillator.Shared)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 500, cfg.Bob.DSP.FIRSize)
	assert.Equal(t, 10e6, cfg.Bob.DSP.ToneCutoff)
	assert.Equal(t, 6.0, cfg.Bob.DSP.ToneSNRThreshold)
	assert.Equal(t, 0.2, cfg.Bob.DSP.CorrelationThreshold)
	assert.Equal(t, 5e6, cfg.Bob.DSP.PilotSearchSpan)
	assert.Equal(t, 10_000_000, cfg.Bob.DSP.ClockEstimationSamples)
	assert.Equal(t, 100_000, cfg.Bob.DSP.BeatEstimationSamples)
	assert.Equal(t, 50, cfg.Bob.DSP.CoarseWindowRatio)

	assert.Equal(t, 64, cfg.Bob.DSP.Equalizer.Length)
	assert.Equal(t, 1e-3, cfg.Bob.DSP.Equalizer.Step)
	assert.Equal(t, 0.02, cfg.Bob.DSP.Equalizer.ErrorThreshold)
	assert.Equal(t, 1.0, cfg.Bob.DSP.Equalizer.TargetRadius)
}

func TestVersionGate(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{version: "0.9", ok: true},
		{version: "0.9.3", ok: true},
		{version: "0.10", ok: true},
		{version: "1.0", ok: false},
		{version: "0.8", ok: false},
		{version: "", ok: false},
		{version: "not-a-version", ok: false},
	}
	for _, tt := range tests {
		t.Run("version "+tt.version, func(t *testing.T) {
			cfg := validConfig()
			cfg.Version = tt.version
			err := cfg.checkVersion()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errLike string
	}{
		{
			name:    "zero symbol rate",
			mutate:  func(c *Config) { c.Frame.Quantum.SymbolRate = 0 },
			errLike: "symbol_rate",
		},
		{
			name:    "roll-off too large",
			mutate:  func(c *Config) { c.Frame.Quantum.RollOff = 1.5 },
			errLike: "roll_off",
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Frame.Quantum.NumSymbols = 0 },
			errLike: "num_symbols",
		},
		{
			name:    "negative shift",
			mutate:  func(c *Config) { c.Frame.Quantum.FrequencyShift = -1 },
			errLike: "frequency_shift",
		},
		{
			name:    "adc below dac",
			mutate:  func(c *Config) { c.Bob.ADCRate = 400e6 },
			errLike: "adc_rate must be at least alice.dac_rate",
		},
		{
			name:    "zadoff-chu root not coprime",
			mutate:  func(c *Config) { c.Frame.ZadoffChu = ZadoffChuConfig{Root: 4, Length: 8} },
			errLike: "coprime",
		},
		{
			name:    "zadoff-chu root out of range",
			mutate:  func(c *Config) { c.Frame.ZadoffChu = ZadoffChuConfig{Root: 9, Length: 8} },
			errLike: "root",
		},
		{
			name:    "pilots unordered",
			mutate:  func(c *Config) { c.Frame.Pilots.Frequencies = []float64{220e6, 200e6} },
			errLike: "ascending",
		},
		{
			name:    "pilot not positive",
			mutate:  func(c *Config) { c.Frame.Pilots.Frequencies = []float64{0, 200e6} },
			errLike: "positive",
		},
		{
			name:    "general topology needs a pilot pair",
			mutate:  func(c *Config) { c.Frame.Pilots.Frequencies = []float64{200e6} },
			errLike: "at least 2",
		},
		{
			name:    "negative subframe size",
			mutate:  func(c *Config) { c.Bob.DSP.SubframeSize = -1 },
			errLike: "subframe_size",
		},
		{
			name:    "fir too short",
			mutate:  func(c *Config) { c.Bob.DSP.FIRSize = 2 },
			errLike: "fir_size",
		},
		{
			name:    "correlation threshold at one",
			mutate:  func(c *Config) { c.Bob.DSP.CorrelationThreshold = 1 },
			errLike: "correlation_threshold",
		},
		{
			name:    "inverted exclusion zone",
			mutate:  func(c *Config) { c.Bob.DSP.ExclusionZones = [][2]float64{{5, 5}} },
			errLike: "exclusion_zones",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Bob.DSP.Workers = -1 },
			errLike: "workers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errLike)
		})
	}
}

func TestValidatePilotCountPerTopology(t *testing.T) {
	// A single pilot carries the phase reference, which every topology
	// needs; only fully independent hardware needs the pair for the
	// clock estimate.
	cfg := validConfig()
	cfg.Frame.Pilots.Frequencies = []float64{200e6}

	cfg.Clock.Shared, cfg.LocalOscillator.Shared = false, false
	assert.Error(t, cfg.Validate())

	cfg.Clock.Shared, cfg.LocalOscillator.Shared = true, false
	assert.NoError(t, cfg.Validate())

	cfg.Clock.Shared, cfg.LocalOscillator.Shared = false, true
	assert.NoError(t, cfg.Validate())

	cfg.Clock.Shared, cfg.LocalOscillator.Shared = true, true
	assert.NoError(t, cfg.Validate())

	cfg.Frame.Pilots.Frequencies = nil
	assert.Error(t, cfg.Validate(), "even shared hardware needs the phase reference pilot")
}

func TestRateHelpers(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 25.0, cfg.SPS())
	assert.Equal(t, 5.0, cfg.SyncUpsampleRatio())
}
