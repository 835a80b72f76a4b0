// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/fishprep/internal/qsort"
	"github.com/valyala/fastrand"
)

// Enumerated type for location and scale estimator modes
type LSEstimatorMode int

const (
	LSEMeanStdDev LSEstimatorMode = iota
	LSEMedianMAD
	LSESCMedianQn
)

// Global mode selection for location and scale estimation
var LSEstimator LSEstimatorMode = LSESCMedianQn

// Number of random samples used by the approximate estimators on large arrays.
// Arrays up to this size are evaluated exactly.
const numSamples = 128 * 1024

// Lazily evaluated statistics on a data array. Accessors compute on first use;
// Clear() invalidates after the underlying data has been mutated.
type Stats struct {
	data []float32

	haveBasic              bool
	min, mean, max, stdDev float32

	haveLocScale    bool
	location, scale float32
}

func NewStats(data []float32) *Stats {
	return &Stats{data: data}
}

// Invalidates cached values after the underlying array changed
func (s *Stats) Clear() {
	s.haveBasic, s.haveLocScale = false, false
}

func (s *Stats) Min() float32    { s.ensureBasic(); return s.min }
func (s *Stats) Max() float32    { s.ensureBasic(); return s.max }
func (s *Stats) Mean() float32   { s.ensureBasic(); return s.mean }
func (s *Stats) StdDev() float32 { s.ensureBasic(); return s.stdDev }

func (s *Stats) Location() float32 { s.ensureLocScale(); return s.location }
func (s *Stats) Scale() float32    { s.ensureLocScale(); return s.scale }

func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.Min(), s.Max(), s.Mean(), s.StdDev(), s.Location(), s.Scale())
}

func (s *Stats) ensureBasic() {
	if s.haveBasic {
		return
	}
	s.min, s.mean, s.max = calcMinMeanMax(s.data)
	variance := calcVariance(s.data, s.mean)
	s.stdDev = float32(math.Sqrt(float64(variance)))
	s.haveBasic = true
}

func (s *Stats) ensureLocScale() {
	if s.haveLocScale {
		return
	}
	switch LSEstimator {
	case LSEMedianMAD:
		samples := sampleBuffer(len(s.data))
		s.location = FastApproxMedian(s.data, samples)
		s.scale = FastApproxMAD(s.data, s.location, samples)
	case LSESCMedianQn:
		s.ensureBasic()
		s.location, s.scale = FastApproxSigmaClippedMedianAndQn(s.data, 2, 2, (s.max-s.min)/65535.0)
	default:
		s.ensureBasic()
		s.location, s.scale = s.mean, s.stdDev
	}
	s.haveLocScale = true
}

func sampleBuffer(dataLen int) []float32 {
	n := numSamples
	if dataLen < n {
		n = dataLen
	}
	return make([]float32, n)
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		mmean += float64(v)
	}
	return mmin, float32(mmean / float64(len(data))), mmax
}

// Calculate variance of given data from provided mean
func calcVariance(data []float32, mean float32) float64 {
	variance := float64(0)
	for _, v := range data {
		diff := float64(v - mean)
		variance += diff * diff
	}
	return variance / float64(len(data))
}

// Calculates an approximate median of the (presumably large) data by random subsampling.
// Exact when the samples buffer is at least as large as the data.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float32) float32 {
	if len(samples) >= len(data) {
		copy(samples[:len(data)], data)
		return qsort.QSelectMedianFloat32(samples[:len(data)])
	}
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates an approximate median of the data restricted to [lowBound, highBound] by random subsampling.
// Uses provided samples array as scratchpad
func FastApproxBoundedMedian(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d float32
		for {
			d = data[rng.Uint32n(max)]
			if d >= lowBound && d <= highBound {
				break
			}
		}
		samples[i] = d
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates an approximate median absolute deviation from the given location by random subsampling,
// normalized to the standard deviation of a Gaussian. Exact when the samples buffer covers the data.
// Uses provided samples array as scratchpad
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	if len(samples) >= len(data) {
		for i, d := range data {
			samples[i] = float32(math.Abs(float64(d - location)))
		}
		return qsort.QSelectMedianFloat32(samples[:len(data)]) * 1.4826
	}
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = float32(math.Abs(float64(data[rng.Uint32n(max)] - location)))
	}
	return qsort.QSelectMedianFloat32(samples) * 1.4826
}

// Calculates an approximate Qn scale estimate of the data by subsampling pairs and taking
// the first quartile of their absolute differences.
// Original paper http://web.ipac.caltech.edu/staff/fmasci/home/astro_refs/BetterThanMAD.pdf
func FastApproxQn(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		index1 := 1 + rng.Uint32n(max-1)
		index2 := rng.Uint32n(index1)
		samples[i] = float32(math.Abs(float64(data[index1] - data[index2])))
	}
	// normalization per https://rdrr.io/cran/robustbase/man/Qn.html
	return qsort.QSelectFirstQuartileFloat32(samples) * 2.21914
}

// Calculates an approximate Qn scale estimate of the data restricted to [lowBound, highBound]
func FastApproxBoundedQn(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d1, d2 float32
		for {
			index1 := 1 + rng.Uint32n(max-1)
			d1 = data[index1]
			if d1 < lowBound || d1 > highBound {
				continue
			}
			d2 = data[rng.Uint32n(index1)]
			if d2 >= lowBound && d2 <= highBound {
				break
			}
		}
		samples[i] = float32(math.Abs(float64(d1 - d2)))
	}
	return qsort.QSelectFirstQuartileFloat32(samples) * 2.21914
}

// Returns a rapid robust estimation of location and scale. Uses a fast approximate median based
// on randomized sampling, iteratively sigma clipped with a fast approximate Qn based on random
// sampling. Exits once the absolute change in location and scale is below epsilon.
func FastApproxSigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh, epsilon float32) (location, scale float32) {
	samples := sampleBuffer(len(data))
	location = FastApproxMedian(data, samples)
	scale = FastApproxQn(data, samples)

	for i := 0; ; i++ {
		lowBound := location - sigmaLow*scale
		highBound := location + sigmaHigh*scale

		newLocation := FastApproxBoundedMedian(data, lowBound, highBound, samples)
		newScale := FastApproxBoundedQn(data, lowBound, highBound, samples)
		newScale *= 1.134 // adjust for subsequent clipping

		if float32(math.Abs(float64(newLocation-location))+math.Abs(float64(newScale-scale))) <= epsilon || i >= 10 {
			scale = FastApproxQn(data, samples)
			return location, scale
		}

		location, scale = newLocation, newScale
	}
}
