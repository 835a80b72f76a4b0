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


package imath

// MatchHistogram remaps src so its value distribution follows that of tmpl, writing
// the result to res. Inputs must hold non-negative integer-valued floats (see Quantize).
// For every distinct source value, its cumulative quantile is looked up in the template
// CDF and mapped to a template value, linearly interpolating between the two framing
// template quantiles. Matching an array against itself is the identity.
// res may alias src
func MatchHistogram(res, src, tmpl []float32) {
	maxV := 0
	for _, v := range src {
		if int(v) > maxV {
			maxV = int(v)
		}
	}
	for _, v := range tmpl {
		if int(v) > maxV {
			maxV = int(v)
		}
	}

	srcHist := make([]int64, maxV+1)
	tmplHist := make([]int64, maxV+1)
	for _, v := range src {
		srcHist[int(v)]++
	}
	for _, v := range tmpl {
		tmplHist[int(v)]++
	}

	// distinct template values with their cumulative quantiles
	tmplVals := make([]float32, 0, 256)
	tmplQuants := make([]float64, 0, 256)
	cum := int64(0)
	for v, n := range tmplHist {
		if n == 0 {
			continue
		}
		cum += n
		tmplVals = append(tmplVals, float32(v))
		tmplQuants = append(tmplQuants, float64(cum)/float64(len(tmpl)))
	}

	// map each distinct source value along the ascending template CDF
	mapping := make([]float32, maxV+1)
	cum = 0
	j := 0
	for v, n := range srcHist {
		if n == 0 {
			continue
		}
		cum += n
		q := float64(cum) / float64(len(src))
		for j < len(tmplQuants) && tmplQuants[j] < q {
			j++
		}
		switch {
		case j == 0:
			mapping[v] = tmplVals[0]
		case j == len(tmplQuants):
			mapping[v] = tmplVals[len(tmplVals)-1]
		default:
			q0, q1 := tmplQuants[j-1], tmplQuants[j]
			frac := float32((q - q0) / (q1 - q0))
			mapping[v] = tmplVals[j-1] + frac*(tmplVals[j]-tmplVals[j-1])
		}
	}

	for i, v := range src {
		res[i] = mapping[int(v)]
	}
}
