package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the floor reported for silence.
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
)

// DecodeS16LE converts little-endian 16-bit mono PCM to samples in [-1,1).
// A trailing odd byte is ignored. dst is reused when large enough.
func DecodeS16LE(buf []byte, dst []float64) []float64 {
	n := len(buf) / 2
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float64(int16(binary.LittleEndian.Uint16(buf[2*i:]))) / MaxSampleValue
	}
	return dst
}

// Level returns the RMS and peak level of mono S16LE PCM in dBFS, floored at MinDB.
func Level(buf []byte) (rmsDB, peakDB float64) {
	samples := DecodeS16LE(buf, nil)
	if len(samples) == 0 {
		return MinDB, MinDB
	}
	var sumSquares, peak float64
	for _, s := range samples {
		sumSquares += s * s
		peak = max(peak, math.Abs(s))
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return max(20*math.Log10(rms), MinDB), max(20*math.Log10(peak), MinDB)
}
