package dsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the pipeline reports. The
// structured error types below wrap them, so callers can branch with
// errors.Is and still recover the measurement details.
var (
	// ErrToneNotFound reports a reference tone search that produced no
	// spectral line above the detection threshold.
	ErrToneNotFound = errors.New("tone not found")

	// ErrSynchronizationFailed reports a synchronization-sequence search
	// whose best correlation peak was not convincing.
	ErrSynchronizationFailed = errors.New("synchronization failed")

	// ErrIncompleteReference reports a phase-alignment request lacking a
	// usable reference subset for some subframe.
	ErrIncompleteReference = errors.New("incomplete reference data")
)

// ToneNotFoundError carries the search band and the observed spectrum
// statistics of a failed tone search.
type ToneNotFoundError struct {
	Low, High float64 // search band in Hz
	Peak      float64 // strongest candidate power
	Floor     float64 // estimated noise floor power
	MinSNR    float64 // required SNR in dB
}

func (e *ToneNotFoundError) Error() string {
	return fmt.Sprintf("tone not found in [%.4g, %.4g] Hz: peak %.4g over floor %.4g below %.1f dB",
		e.Low, e.High, e.Peak, e.Floor, e.MinSNR)
}

func (e *ToneNotFoundError) Unwrap() error { return ErrToneNotFound }

// SynchronizationError carries the best normalized correlation observed by
// a failed synchronization-sequence search.
type SynchronizationError struct {
	Confidence float64 // best normalized correlation peak in [0, 1]
	Threshold  float64 // configured minimum
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("synchronization failed: correlation peak %.3f below threshold %.3f",
		e.Confidence, e.Threshold)
}

func (e *SynchronizationError) Unwrap() error { return ErrSynchronizationFailed }

// IncompleteReferenceError identifies a subframe whose reference subset is
// missing or inconsistent.
type IncompleteReferenceError struct {
	Subframe int
	Have     int // reference symbols supplied
	Want     int // minimum usable
}

func (e *IncompleteReferenceError) Error() string {
	return fmt.Sprintf("incomplete reference data for subframe %d: have %d symbols, need %d",
		e.Subframe, e.Have, e.Want)
}

func (e *IncompleteReferenceError) Unwrap() error { return ErrIncompleteReference }
