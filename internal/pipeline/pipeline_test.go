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
	"bytes"
	"errors"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/exp"
)

// tolerance for values passing through two rounds of 16-bit quantization
const eps = 5e-5

// quantization applied by the 16-bit TIFF round trip
func q16(v float32) float32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return float32(uint16(v*65535)) / 65535
}

func makeData(n int, fill func(i int) float32) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = fill(i)
	}
	return data
}

// writeView stores one view of one field of view as tiles plus manifest
func writeView(t *testing.T, dir, view, fov string, rounds, chs, zs, height, width int32, data []float32) {
	t.Helper()
	m := &exp.Manifest{
		Version: "1.0",
		Shape:   exp.Shape{Rounds: rounds, Chs: chs, Zplanes: zs, Height: height, Width: width},
	}
	planeSize := height * width
	for r := int32(0); r < rounds; r++ {
		for c := int32(0); c < chs; c++ {
			for z := int32(0); z < zs; z++ {
				name := exp.TileName(view, fov, c, r, z)
				offset := ((r*chs+c)*zs + z) * planeSize
				if err := exp.WriteTIFF16ToFile(filepath.Join(dir, name), data[offset:offset+planeSize], width, height); err != nil {
					t.Fatalf("writing %s: %v", name, err)
				}
				m.Tiles = append(m.Tiles, exp.Tile{File: name, Round: r, Ch: c, Zplane: z})
			}
		}
	}
	if err := m.WriteFile(filepath.Join(dir, exp.ManifestName(view, fov))); err != nil {
		t.Fatalf("writing manifest for %s: %v", view, err)
	}
}

func readPlane(t *testing.T, dir, view, fov string, c, r, z int32) []float32 {
	t.Helper()
	data, _, _, err := exp.ReadTIFF16FromFile(filepath.Join(dir, exp.TileName(view, fov, c, r, z)))
	if err != nil {
		t.Fatalf("reading %s: %v", exp.TileName(view, fov, c, r, z), err)
	}
	return data
}

func TestRunSubtractsAcquiredBackground(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	img := makeData(16, func(i int) float32 { return float32(i) / 20 })
	writeView(t, in, "primary", "fov_000", 1, 1, 1, 4, 4, img)
	writeView(t, in, "dark", "fov_000", 1, 1, 1, 4, 4, makeData(16, func(i int) float32 { return 0.2 }))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.BackgroundView = "dark"
	p.RollingRad = 0
	p.Rescale = true
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}

	got := readPlane(t, out, "primary", "fov_000", 0, 0, 0)
	for i, v := range got {
		want := img[i] - 0.2
		if want < 0 {
			want = 0
		}
		if d := v - want; d < -eps || d > eps {
			t.Errorf("pixel %d=%v; want %v", i, v, want)
		}
	}

	// the background view itself passes through unprocessed
	for i, v := range readPlane(t, out, "dark", "fov_000", 0, 0, 0) {
		if d := v - 0.2; d < -eps || d > eps {
			t.Errorf("background pixel %d=%v; want 0.2", i, v)
		}
	}

	// patched metadata must checksum against the saved tiles
	verifier := exp.NewStore(out)
	verifier.Verify = true
	if _, err := verifier.LoadStack("primary", "fov_000"); err != nil {
		t.Errorf("verified reload error %v", err)
	}
}

func TestRunKeepsZerosZero(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeView(t, in, "primary", "fov_000", 1, 1, 2, 4, 4, make([]float32, 32))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}
	for z := int32(0); z < 2; z++ {
		for i, v := range readPlane(t, out, "primary", "fov_000", 0, 0, z) {
			if v != 0 {
				t.Errorf("z%d pixel %d=%v; want 0", z, i, v)
			}
		}
	}
}

func TestRunFullPercentileRangeKeepsEverything(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeView(t, in, "primary", "fov_000", 1, 1, 1, 4, 4, makeData(16, func(i int) float32 { return float32(i) / 16 }))
	writeView(t, in, "dark", "fov_000", 1, 1, 1, 4, 4, make([]float32, 16))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.BackgroundView = "dark"
	p.RollingRad = 0
	p.ClipMin, p.ClipMax = 0, 100
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}

	got := readPlane(t, out, "primary", "fov_000", 0, 0, 0)
	if got[0] != 0 {
		t.Errorf("got[0]=%v; want 0", got[0])
	}
	if got[15] != 1 {
		t.Errorf("got[15]=%v; want 1", got[15])
	}
	maxIn := q16(float32(15) / 16)
	for i, v := range got {
		want := q16(float32(i)/16) / maxIn
		if d := v - want; d < -eps || d > eps {
			t.Errorf("pixel %d=%v; want %v", i, v, want)
		}
	}
}

func TestRunNamesExportedTiles(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeView(t, in, "primary", "fov001", 2, 2, 2, 4, 4, makeData(128, func(i int) float32 { return 0.5 }))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}

	for c := int32(0); c < 2; c++ {
		for r := int32(0); r < 2; r++ {
			for z := int32(0); z < 2; z++ {
				name := exp.TileName("primary", "fov001", c, r, z)
				if _, err := os.Stat(filepath.Join(out, name)); err != nil {
					t.Errorf("missing tile %s: %v", name, err)
				}
			}
		}
	}
	if _, err := os.Stat(filepath.Join(out, exp.ManifestName("primary", "fov001"))); err != nil {
		t.Errorf("missing manifest: %v", err)
	}
}

func TestRunClipsAnchorAtFixedPercentiles(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeView(t, in, "primary", "fov_000", 1, 1, 1, 10, 10, make([]float32, 100))
	writeView(t, in, "dark", "fov_000", 1, 1, 1, 10, 10, make([]float32, 100))
	writeView(t, in, "anchor", "fov_000", 1, 1, 1, 10, 10, makeData(100, func(i int) float32 { return float32(i) / 100 }))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.BackgroundView = "dark"
	p.AnchorView = "anchor"
	p.RollingRad = 0
	p.ClipMin, p.ClipMax = 0, 100
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}

	// the anchor clips at its own fixed 90th percentile, not the run settings
	got := readPlane(t, out, "anchor", "fov_000", 0, 0, 0)
	zeros, max := 0, float32(0)
	for _, v := range got {
		if v == 0 {
			zeros++
		}
		if v > max {
			max = v
		}
	}
	if zeros < 90 {
		t.Errorf("zeros=%d; want >=90", zeros)
	}
	if max != 1 {
		t.Errorf("max=%v; want 1", max)
	}

	for i, v := range readPlane(t, out, "primary", "fov_000", 0, 0, 0) {
		if v != 0 {
			t.Errorf("primary pixel %d=%v; want 0", i, v)
		}
	}
}

func TestRunAlignsWithAuxiliaryView(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	img := make([]float32, 2*16*16)
	for y := 4; y < 6; y++ {
		for x := 4; x < 6; x++ {
			img[y*16+x] = 0.8
		}
	}
	for y := 9; y < 11; y++ {
		for x := 7; x < 9; x++ {
			img[256+y*16+x] = 0.6
		}
	}
	beads := make([]float32, 16*16)
	for y := 6; y < 8; y++ {
		for x := 6; x < 8; x++ {
			beads[y*16+x] = 1
		}
	}
	writeView(t, in, "primary", "fov_000", 1, 2, 1, 16, 16, img)
	writeView(t, in, "beads", "fov_000", 1, 1, 1, 16, 16, beads)
	writeView(t, in, "dark", "fov_000", 1, 1, 1, 16, 16, make([]float32, 256))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.RegisterAuxView = "beads"
	p.ChPerReg = 2
	p.BackgroundView = "dark"
	p.RollingRad = 0
	p.Rescale = true
	log := &bytes.Buffer{}
	if err := Run(p, log); err != nil {
		t.Fatalf("Run error %v", err)
	}

	if !strings.Contains(log.String(), "aligning primary to beads") {
		t.Errorf("log lacks alignment: %s", log.String())
	}
	if !strings.Contains(log.String(), "shift dy=+0.000 dx=+0.000") {
		t.Errorf("log lacks zero shift: %s", log.String())
	}

	// the beads view registers onto itself, so the image passes unchanged
	for c := int32(0); c < 2; c++ {
		got := readPlane(t, out, "primary", "fov_000", c, 0, 0)
		for i, v := range got {
			want := img[int(c)*256+i]
			if d := v - want; d < -eps || d > eps {
				t.Errorf("ch%d pixel %d=%v; want %v", c, i, v, want)
			}
		}
	}
}

func TestRunAbortsOnFailingFov(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	broken := &exp.Manifest{
		Version: "1.0",
		Shape:   exp.Shape{Rounds: 1, Chs: 1, Zplanes: 1, Height: 4, Width: 4},
		Tiles:   []exp.Tile{{File: "missing.tiff"}},
	}
	if err := broken.WriteFile(filepath.Join(in, exp.ManifestName("primary", "fov_000"))); err != nil {
		t.Fatal(err)
	}
	writeView(t, in, "primary", "fov_001", 1, 1, 1, 4, 4, make([]float32, 16))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	err := Run(p, io.Discard)
	if !errors.Is(err, errs.Storage) {
		t.Fatalf("Run error %v; want %v", err, errs.Storage)
	}
	if !strings.Contains(err.Error(), "fov_000") {
		t.Errorf("error %q does not name the field of view", err.Error())
	}
	if _, statErr := os.Stat(filepath.Join(out, exp.TileName("primary", "fov_001", 0, 0, 0))); statErr == nil {
		t.Errorf("later field of view was processed after abort")
	}
}

func TestRunKeepGoingSkipsFailingFov(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	broken := &exp.Manifest{
		Version: "1.0",
		Shape:   exp.Shape{Rounds: 1, Chs: 1, Zplanes: 1, Height: 4, Width: 4},
		Tiles:   []exp.Tile{{File: "missing.tiff"}},
	}
	if err := broken.WriteFile(filepath.Join(in, exp.ManifestName("primary", "fov_000"))); err != nil {
		t.Fatal(err)
	}
	writeView(t, in, "primary", "fov_001", 1, 1, 1, 4, 4, make([]float32, 16))

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.KeepGoing = true
	log := &bytes.Buffer{}
	err := Run(p, log)
	if err == nil {
		t.Fatalf("Run error nil; want the failed field of view reported")
	}
	if !strings.Contains(err.Error(), "fov_000") || strings.Contains(err.Error(), "fov_001") {
		t.Errorf("error %q; want it to name fov_000 only", err.Error())
	}
	if !strings.Contains(log.String(), "Error processing fov_000") {
		t.Errorf("log lacks skip notice: %s", log.String())
	}
	if _, err := os.Stat(filepath.Join(out, exp.TileName("primary", "fov_001", 0, 0, 0))); err != nil {
		t.Errorf("later field of view missing: %v", err)
	}
}

func TestRunRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"noInputDir", func(p *Params) { p.InputDir = "" }},
		{"noOutputDir", func(p *Params) { p.OutputDir = "" }},
		{"unknownLevelMethod", func(p *Params) { p.LevelMethod = "BRIGHTEST_WINS" }},
		{"invertedPercentiles", func(p *Params) { p.ClipMin, p.ClipMax = 60, 50 }},
		{"zeroChPerReg", func(p *Params) { p.RegisterAuxView = "beads"; p.ChPerReg = 0 }},
		{"unknownEstimator", func(p *Params) { p.LSEstimator = 7 }},
	}
	for _, tc := range cases {
		p := NewParamsDefaults()
		p.InputDir, p.OutputDir = t.TempDir(), t.TempDir()
		tc.mutate(p)
		if err := Run(p, io.Discard); !errors.Is(err, errs.Configuration) {
			t.Errorf("%s: Run error %v; want %v", tc.name, err, errs.Configuration)
		}
	}
}

func TestRunReportsEmptyExperiment(t *testing.T) {
	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = t.TempDir(), t.TempDir()
	if err := Run(p, io.Discard); !errors.Is(err, errs.Storage) {
		t.Errorf("Run error %v; want %v", err, errs.Storage)
	}
}

func TestRunWritesPreview(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	img := make([]float32, 2*64)
	for i := 0; i < 32; i++ {
		img[i] = 0.9
	}
	for i := 32; i < 64; i++ {
		img[64+i] = 0.9
	}
	writeView(t, in, "primary", "fov_000", 1, 2, 1, 8, 8, img)

	p := NewParamsDefaults()
	p.InputDir, p.OutputDir = in, out
	p.RollingRad = 0
	p.Rescale = true
	p.Preview = true
	if err := Run(p, io.Discard); err != nil {
		t.Fatalf("Run error %v", err)
	}

	file, err := os.Open(filepath.Join(out, "preview-fov_000.jpg"))
	if err != nil {
		t.Fatalf("missing preview: %v", err)
	}
	defer file.Close()
	decoded, err := jpeg.Decode(file)
	if err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("preview bounds %v; want 8x8", b)
	}
}

func TestLoadParams(t *testing.T) {
	name := filepath.Join(t.TempDir(), "params.yaml")
	yaml := "inputDir: /data/exp1\nhighSigma: 2.5\nmatchHist: true\n"
	if err := os.WriteFile(name, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadParams(name)
	if err != nil {
		t.Fatalf("LoadParams error %v", err)
	}
	if p.InputDir != "/data/exp1" || p.HighSigma != 2.5 || !p.MatchHist {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.OutputDir != "3_processed/" || p.DeconIter != 15 || p.RollingRad != 3 || p.ClipMax != 99.9 || p.ChPerReg != 1 {
		t.Errorf("defaults not kept: %+v", p)
	}

	if _, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, errs.Configuration) {
		t.Errorf("missing file error %v; want %v", err, errs.Configuration)
	}
	if err := os.WriteFile(name, []byte(":\n:bad"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadParams(name); !errors.Is(err, errs.Configuration) {
		t.Errorf("malformed file error %v; want %v", err, errs.Configuration)
	}
}
