// Package quality computes coarse audio quality snapshots from a live signal.
//
// A snapshot is derived from a 128-bin magnitude spectrum of the most recent
// 256 samples, mapped onto [0,1] with the same decibel range and temporal
// smoothing a browser AnalyserNode applies, so scores are comparable with
// those reported by other clients in the meeting.
package quality

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// FFTSize is the number of time-domain samples per spectrum.
	FFTSize = 256
	// Bins is the number of frequency bins reported (FFTSize/2).
	Bins = FFTSize / 2
	// MinDecibels maps to 0 in the normalized spectrum.
	MinDecibels = -100.0
	// MaxDecibels maps to 1 in the normalized spectrum.
	MaxDecibels = -30.0
	// DefaultSmoothing is the weight given to the previous spectrum.
	DefaultSmoothing = 0.8
)

// Spectrum turns blocks of time-domain samples into normalized magnitude
// spectra. It keeps smoothing state between calls and is not safe for
// concurrent use.
type Spectrum struct {
	fft       *fourier.FFT
	smoothing float64

	windowed []float64
	coeffs   []complex128
	smoothed []float64
	out      []float64
}

// NewSpectrum returns a Spectrum of FFTSize points. smoothing is in [0,1);
// 0 disables temporal smoothing.
func NewSpectrum(smoothing float64) *Spectrum {
	return &Spectrum{
		fft:       fourier.NewFFT(FFTSize),
		smoothing: min(max(smoothing, 0), 0.99),
		windowed:  make([]float64, FFTSize),
		coeffs:    make([]complex128, FFTSize/2+1),
		smoothed:  make([]float64, Bins),
		out:       make([]float64, Bins),
	}
}

// Magnitudes returns Bins normalized magnitudes in [0,1] for samples, which
// must hold FFTSize values in [-1,1]. The returned slice is reused by the next call.
func (s *Spectrum) Magnitudes(samples []float64) []float64 {
	copy(s.windowed, samples)
	window.Blackman(s.windowed)

	s.coeffs = s.fft.Coefficients(s.coeffs, s.windowed)

	for k := range Bins {
		mag := cmplx.Abs(s.coeffs[k]) / FFTSize
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag
		s.out[k] = normalizeDB(s.smoothed[k])
	}
	return s.out
}

// Reset clears smoothing state.
func (s *Spectrum) Reset() {
	clear(s.smoothed)
}

// normalizeDB maps a linear magnitude onto [0,1] across [MinDecibels, MaxDecibels].
func normalizeDB(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - MinDecibels) / (MaxDecibels - MinDecibels)
	return min(max(v, 0), 1)
}
