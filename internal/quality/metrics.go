package quality

import "github.com/huddlehq/huddle-recorder/internal/types"

const (
	// edgeBins is the number of lowest/highest bins averaged for noise and clarity.
	edgeBins = 10
	// proximityThreshold is the volume above which the speaker counts as near.
	proximityThreshold = 0.1
	proximityNear      = 0.8
	proximityFar       = 0.3
)

// Compute derives a quality snapshot from a normalized magnitude spectrum.
// volume_level is the mean of all bins, background_noise the mean of the
// lowest bins and clarity_score the mean of the highest bins.
func Compute(bins []float64) types.QualityMetrics {
	if len(bins) == 0 {
		return types.QualityMetrics{ProximityScore: proximityFar}
	}
	n := min(edgeBins, len(bins))
	volume := mean(bins)
	return types.QualityMetrics{
		VolumeLevel:     volume,
		BackgroundNoise: mean(bins[:n]),
		ClarityScore:    mean(bins[len(bins)-n:]),
		ProximityScore:  Proximity(volume),
	}
}

// Proximity is the two-level near/far heuristic: 0.8 when volume is strictly
// above 0.1, otherwise 0.3.
func Proximity(volume float64) float64 {
	if volume > proximityThreshold {
		return proximityNear
	}
	return proximityFar
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
