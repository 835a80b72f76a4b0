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


// Package pipeline drives the processing of a whole imaging experiment. Each
// field of view is loaded from the input store, its primary and anchor views
// run through the enhancement and registration operator chain, and all views
// are written to the output store together with patched metadata
package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/exp"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/ops/bg"
	"github.com/mlnoga/fishprep/internal/ops/filter"
	"github.com/mlnoga/fishprep/internal/ops/level"
	"github.com/mlnoga/fishprep/internal/ops/reg"
	"github.com/mlnoga/fishprep/internal/stack"
	"github.com/mlnoga/fishprep/internal/stats"
)

// PrimaryView is the name of the view processed in every field of view
const PrimaryView = "primary"

const (
	estimateRadius = 100  // opening disk radius for background estimation
	regUpsample    = 100  // subpixel refinement factor for shift estimation
	anchorClipMin  = 90   // fixed lower clipping percentile for the anchor view
	anchorClipMax  = 99.9 // fixed upper clipping percentile for the anchor view
	previewQuality = 90   // JPEG quality for preview images
)

// Run processes every field of view of the experiment in p.InputDir and
// writes the results to p.OutputDir. A failing field of view aborts the run
// unless p.KeepGoing is set, in which case the remaining fields are still
// processed and the failures are reported in the returned error
func Run(p *Params, logWriter io.Writer) error {
	if p.InputDir == "" {
		return fmt.Errorf("%w: no input directory given", errs.Configuration)
	}
	if p.OutputDir == "" {
		return fmt.Errorf("%w: no output directory given", errs.Configuration)
	}
	method, err := level.ParseLevelMethod(p.LevelMethod)
	if err != nil {
		return err
	}
	if p.ClipMin < 0 || p.ClipMax > 100 || p.ClipMin > p.ClipMax {
		return fmt.Errorf("%w: invalid percentile range [%f, %f]", errs.Configuration, p.ClipMin, p.ClipMax)
	}
	if p.RegisterAuxView != "" && p.ChPerReg <= 0 {
		return fmt.Errorf("%w: registration requires a positive number of channels per registration channel, have %d",
			errs.Configuration, p.ChPerReg)
	}
	if p.LSEstimator < int(stats.LSEMeanStdDev) || p.LSEstimator > int(stats.LSESCMedianQn) {
		return fmt.Errorf("%w: invalid location and scale estimator mode %d", errs.Configuration, p.LSEstimator)
	}
	stats.LSEstimator = stats.LSEstimatorMode(p.LSEstimator)

	c := ops.NewContext(logWriter, stats.LSEstimatorMode(p.LSEstimator), p.NumWorkers)
	if bs, err := json.Marshal(p); err == nil {
		fmt.Fprintf(c.Log, "Parameters %s\n", bs)
	}
	chain := buildChain(p, method, reg.NewOpRegister(p.RegisterAuxView, p.ChPerReg, regUpsample), p.ClipMin, p.ClipMax)
	if bs, err := json.MarshalIndent(chain, "", "  "); err == nil {
		fmt.Fprintf(c.Log, "Processing primary views with %d workers and these operators:\n%s\n", c.MaxWorkers, bs)
	}

	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	src := exp.NewStore(p.InputDir)
	src.Verify = p.Verify
	dst := exp.NewStore(p.OutputDir)

	fovs, err := src.FieldsOfView()
	if err != nil {
		return err
	}
	if len(fovs) == 0 {
		return fmt.Errorf("%w: no view manifests found in %s", errs.Storage, p.InputDir)
	}

	start := time.Now()
	var failed []string
	for _, fov := range fovs {
		if err := runFov(p, c, src, dst, fov, method); err != nil {
			if !p.KeepGoing {
				return fmt.Errorf("%s: %w", fov, err)
			}
			fmt.Fprintf(c.Log, "Error processing %s: %v\n", fov, err)
			failed = append(failed, fov)
		}
	}

	if err := dst.CopyAncillary(src, c.Log); err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "\n\nTotal time elapsed for processing: %v\n", time.Since(start))
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d fields of view failed: %s", len(failed), len(fovs), strings.Join(failed, ", "))
	}
	return nil
}

// runFov processes one field of view: the primary view and the anchor view,
// if one is named, pass through the operator chain, every other view is
// re-encoded unprocessed, and the metadata follows once all tiles are saved
func runFov(p *Params, c *ops.Context, src, dst *exp.Store, fov string, method level.LevelMethod) error {
	start := time.Now()
	fmt.Fprintf(c.Log, "Processing %s\n", fov)

	views, err := src.Views(fov)
	if err != nil {
		return err
	}

	img, err := src.LoadStack(PrimaryView, fov)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Fetched view %s\n", img.View)
	if mb := img.Pixels() * 4 / 1024 / 1024; mb > c.StackMemoryMB {
		fmt.Fprintf(c.Log, "Warning: %s needs %d MB with only %d MB usable, processing may swap\n",
			img.View, mb, c.StackMemoryMB)
	}

	var anchor *stack.Stack
	if p.AnchorView != "" {
		if anchor, err = src.LoadStack(p.AnchorView, fov); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "\tanchor image retrieved\n")
	}

	c.BackStack, c.RegStack = nil, nil
	if p.BackgroundView != "" {
		if c.BackStack, err = src.LoadStack(p.BackgroundView, fov); err != nil {
			return err
		}
	}
	if p.RegisterAuxView != "" {
		if c.RegStack, err = src.LoadStack(p.RegisterAuxView, fov); err != nil {
			return err
		}
	}

	// the register operator is shared so shifts are learned once per field of view
	regOp := reg.NewOpRegister(p.RegisterAuxView, p.ChPerReg, regUpsample)

	if img, err = processView(img, buildChain(p, method, regOp, p.ClipMin, p.ClipMax), c, p.Rescale); err != nil {
		return err
	}
	if err = dst.SaveStack(img); err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "View %s saved\n", img.View)

	if anchor != nil {
		if anchor, err = processView(anchor, buildChain(p, method, regOp, anchorClipMin, anchorClipMax), c, p.Rescale); err != nil {
			return err
		}
		if err = dst.SaveStack(anchor); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "View %s saved\n", anchor.View)
	}

	for _, view := range views {
		if view == PrimaryView || view == p.AnchorView {
			continue
		}
		raw, err := src.LoadStack(view, fov)
		if err != nil {
			return err
		}
		if err = dst.SaveStack(raw); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "View %s saved\n", view)
	}

	if err = dst.PatchMetadata(src, fov, c.Log); err != nil {
		return err
	}

	if p.Preview {
		name := filepath.Join(p.OutputDir, "preview-"+fov+".jpg")
		if err = WritePreview(name, img, previewQuality); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Preview saved to %s\n", name)
	}

	fmt.Fprintf(c.Log, "Time for %s: %v\n", fov, time.Since(start))
	return nil
}

// processView runs one view through its operator chain and logs its statistics
func processView(st *stack.Stack, chain *ops.OpSequence, c *ops.Context, rescale bool) (*stack.Stack, error) {
	st, err := chain.Apply(st, c)
	if err != nil {
		return nil, err
	}
	if rescale {
		fmt.Fprintf(c.Log, "\tskipping clip and scale, will be performed during rescaling.\n")
	}
	fmt.Fprintf(c.Log, "\tView %s complete\n", st.View)
	fmt.Fprintf(c.Log, "\t%s: %v\n", st.View, st.Stats)
	return st, nil
}

// DefaultChain returns the operator chain a default parameter set would run,
// for clients that want to inspect or post an edited pipeline
func DefaultChain() *ops.OpSequence {
	p := NewParamsDefaults()
	return buildChain(p, level.LMScaleByImage, reg.NewOpRegisterDefault(), p.ClipMin, p.ClipMax)
}

// buildChain assembles the operator chain for one view. Background removal is
// always on, subtracting the acquired background view when one is named and
// estimating one otherwise. The remaining operators activate based on their
// parameters, and clipping stands down when rescaling is deferred
func buildChain(p *Params, method level.LevelMethod, regOp *reg.OpRegister, pMin, pMax float32) *ops.OpSequence {
	var bgOp ops.Operator
	if p.BackgroundView != "" {
		bgOp = bg.NewOpSubtractBackground(true)
	} else {
		bgOp = bg.NewOpEstimateBackground(estimateRadius, true)
	}
	clip := level.NewOpClipScale(pMin, pMax, p.IsVolume, method)
	clip.Active = !p.Rescale

	return ops.NewOpSequence(
		bgOp,
		filter.NewOpHighPass(p.HighSigma, p.IsVolume),
		filter.NewOpDeconvolve(p.DeconSigma, p.DeconIter, p.IsVolume),
		filter.NewOpLowPass(p.LowSigma, p.IsVolume),
		filter.NewOpTopHat(p.WthRad),
		filter.NewOpRollingBall(p.RollingRad),
		filter.NewOpMatchHistograms(p.MatchHist),
		regOp,
		clip,
	)
}
