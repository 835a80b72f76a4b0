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


package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/stats"
)

// Params holds the settings for one processing run over an experiment.
// The zero value is not usable, start from NewParamsDefaults
type Params struct {
	InputDir        string  `json:"inputDir"        yaml:"inputDir"`        // directory holding the experiment to process
	OutputDir       string  `json:"outputDir"       yaml:"outputDir"`       // directory receiving the processed experiment
	ClipMin         float32 `json:"clipMin"         yaml:"clipMin"`         // lower clipping percentile for the primary view
	ClipMax         float32 `json:"clipMax"         yaml:"clipMax"`         // upper clipping percentile for the primary view
	LevelMethod     string  `json:"levelMethod"     yaml:"levelMethod"`     // intensity leveling method, empty scales by image
	IsVolume        bool    `json:"isVolume"        yaml:"isVolume"`        // clip and scale whole volumes instead of z-planes
	RegisterAuxView string  `json:"registerAuxView" yaml:"registerAuxView"` // view carrying the registration beads, empty disables
	ChPerReg        int32   `json:"chPerReg"        yaml:"chPerReg"`        // image channels sharing one registration channel
	BackgroundView  string  `json:"backgroundView"  yaml:"backgroundView"`  // acquired background view, empty estimates instead
	AnchorView      string  `json:"anchorView"      yaml:"anchorView"`      // anchor view to process alongside the primary
	HighSigma       float32 `json:"highSigma"       yaml:"highSigma"`       // high pass filter sigma, zero disables
	DeconSigma      float32 `json:"deconSigma"      yaml:"deconSigma"`      // point spread function sigma, zero disables
	DeconIter       int32   `json:"deconIter"       yaml:"deconIter"`       // deconvolution iterations
	LowSigma        float32 `json:"lowSigma"        yaml:"lowSigma"`        // low pass filter sigma, zero disables
	WthRad          int32   `json:"wthRad"          yaml:"wthRad"`          // white tophat disk radius, zero disables
	RollingRad      int32   `json:"rollingRad"      yaml:"rollingRad"`      // rolling ball radius, zero disables
	MatchHist       bool    `json:"matchHist"       yaml:"matchHist"`       // match channel histograms to the dimmest volume
	Rescale         bool    `json:"rescale"         yaml:"rescale"`         // defer clip and scale to a later rescaling run
	KeepGoing       bool    `json:"keepGoing"       yaml:"keepGoing"`       // skip failing fields of view instead of aborting
	Verify          bool    `json:"verify"          yaml:"verify"`          // verify tile checksums while loading
	NumWorkers      int     `json:"numWorkers"      yaml:"numWorkers"`      // parallel workers, zero uses all cores
	Preview         bool    `json:"preview"         yaml:"preview"`         // write a JPEG preview per field of view
	LSEstimator     int     `json:"lsEstimator"     yaml:"lsEstimator"`     // location and scale estimator mode
}

// NewParamsDefaults returns processing settings with their default values
func NewParamsDefaults() *Params {
	return &Params{
		OutputDir:   "3_processed/",
		ClipMin:     0,
		ClipMax:     99.9,
		ChPerReg:    1,
		DeconIter:   15,
		RollingRad:  3,
		LSEstimator: int(stats.LSESCMedianQn),
	}
}

// LoadParams reads processing settings from a YAML file, filling in defaults
// for absent keys
func LoadParams(fileName string) (*Params, error) {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Configuration, err)
	}
	p := NewParamsDefaults()
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errs.Configuration, fileName, err)
	}
	return p, nil
}
