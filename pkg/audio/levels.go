package audio

import "math"

// Visualization constants. Levels are pixel heights for the widget's
// five-bar indicator.
const (
	LevelBands = 5

	levelMinPx = 4.0
	levelMaxPx = 28.0

	// levelPower is the sub-linear exponent for perceptual scaling.
	levelPower = 0.7

	// levelDecay is the per-tick exponential falloff applied while not
	// listening.
	levelDecay = 0.82
)

// levelBandEdges are the band boundaries in Hz, roughly covering the voice
// spectrum.
var levelBandEdges = [LevelBands + 1]float64{85, 255, 500, 1000, 2000, 4000}

// probesPerBand is how many frequencies are sampled inside each band.
const probesPerBand = 4

// Levels derives the visualization vector for one animation tick.
//
// While listening it computes, per band, a blend of spectral peak, average,
// and peak-density over probe frequencies, raised to a sub-linear power and
// mapped into the pixel range. Otherwise it decays the previous vector
// toward the floor. Pure; no side effects.
func Levels(samples []int16, prev [LevelBands]float64, listening bool) [LevelBands]float64 {
	var out [LevelBands]float64

	if !listening || len(samples) == 0 {
		for i, v := range prev {
			d := v * levelDecay
			if d < levelMinPx {
				d = levelMinPx
			}
			out[i] = d
		}
		return out
	}

	for band := 0; band < LevelBands; band++ {
		lo, hi := levelBandEdges[band], levelBandEdges[band+1]

		var peak, sum float64
		mags := make([]float64, 0, probesPerBand)
		for p := 0; p < probesPerBand; p++ {
			freq := lo + (hi-lo)*(float64(p)+0.5)/probesPerBand
			m := goertzel(samples, freq, WireSampleRate)
			mags = append(mags, m)
			sum += m
			if m > peak {
				peak = m
			}
		}
		avg := sum / probesPerBand

		// Peak-density: fraction of probes near the band peak. A flat
		// band (broadband noise) scores high, a lone tone scores low.
		dense := 0.0
		if peak > 0 {
			for _, m := range mags {
				if m >= peak*0.5 {
					dense++
				}
			}
			dense /= probesPerBand
		}

		blend := 0.5*peak + 0.3*avg + 0.2*peak*dense
		scaled := math.Pow(clamp01(blend), levelPower)
		out[band] = levelMinPx + scaled*(levelMaxPx-levelMinPx)
	}

	return out
}

// goertzel returns the normalized magnitude (0..1) of one frequency in the
// frame.
func goertzel(samples []int16, freq float64, sampleRate int) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample)/32768.0 + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return clamp01(math.Sqrt(power) / (float64(n) / 2))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
