package vad

import "math"

type features struct {
	energy   float64
	zcr      float64
	centroid float64
	rolloff  float64
}

func (f features) valid() bool {
	for _, v := range []float64{f.energy, f.zcr, f.centroid, f.rolloff} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// extract computes all features in a single pass over normalized samples.
//
// The centroid is estimated from the ratio of mean absolute first difference
// to mean absolute amplitude: for a sinusoid of angular frequency w that
// ratio is ~w, so f ~= ratio * sr / 2pi.
func extract(x []float64, sampleRate int, rolloffFactor float64) features {
	var f features
	n := len(x)
	if n == 0 {
		return f
	}

	var sumSq, sumAbs, sumDiff float64
	crossings := 0
	for i, v := range x {
		sumSq += v * v
		sumAbs += math.Abs(v)
		if i > 0 {
			sumDiff += math.Abs(v - x[i-1])
			if (v >= 0) != (x[i-1] >= 0) {
				crossings++
			}
		}
	}

	f.energy = math.Sqrt(sumSq / float64(n))
	if n > 1 {
		f.zcr = float64(crossings) / float64(n-1)
		meanAbs := sumAbs / float64(n)
		if meanAbs > 0 {
			ratio := (sumDiff / float64(n-1)) / meanAbs
			f.centroid = ratio * float64(sampleRate) / (2 * math.Pi)
		}
	}
	f.rolloff = math.Min(f.centroid*rolloffFactor, float64(sampleRate)/2)
	return f
}
