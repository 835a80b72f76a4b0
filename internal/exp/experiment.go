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


// Package exp reads and writes imaging experiments stored as one flat directory
// of 16-bit TIFF tiles and JSON manifests. Each view of a field of view has a
// manifest <view>-<fov>.json listing its tiles and the 5-D stack shape; other
// files in the directory, such as codebooks, are treated as opaque ancillary data
package exp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Tile references one stored image plane of a view manifest
type Tile struct {
	File   string `json:"file"`
	Round  int32  `json:"round"`
	Ch     int32  `json:"ch"`
	Zplane int32  `json:"zplane"`
	Sha256 string `json:"sha256"`
}

// Shape gives the dimensions of the 5-D stack described by a view manifest
type Shape struct {
	Rounds  int32 `json:"rounds"`
	Chs     int32 `json:"chs"`
	Zplanes int32 `json:"zplanes"`
	Height  int32 `json:"height"`
	Width   int32 `json:"width"`
}

// Manifest lists the tiles making up one view of one field of view
type Manifest struct {
	Version string `json:"version"`
	Shape   Shape  `json:"shape"`
	Tiles   []Tile `json:"tiles"`
}

// LoadManifest reads a view manifest from a JSON file
func LoadManifest(fileName string) (*Manifest, error) {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", fileName, err)
	}
	return m, nil
}

// WriteFile stores the manifest as indented JSON
func (m *Manifest) WriteFile(fileName string) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, raw, 0644)
}

// ManifestName returns the metadata file name for a view of a field of view
func ManifestName(view, fov string) string {
	return view + "-" + fov + ".json"
}

// TileName returns the image file name for one plane of a view of a field of view
func TileName(view, fov string, c, r, z int32) string {
	return fmt.Sprintf("%s-%s-c%d-r%d-z%d.tiff", view, fov, c, r, z)
}

// splitManifestName decomposes "<view>-<fov>.json" into its view and field of
// view parts. Field of view ids carry the "fov" prefix, like "fov_000"
func splitManifestName(name string) (view, fov string, ok bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", "", false
	}
	base := strings.TrimSuffix(name, ".json")
	i := strings.LastIndex(base, "-fov")
	if i <= 0 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}
