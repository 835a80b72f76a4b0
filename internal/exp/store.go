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


package exp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/stack"
)

// Store accesses one experiment directory. Verify enables checksum validation
// of tiles against their manifest sha256 on load
type Store struct {
	Dir    string
	Verify bool
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// FieldsOfView lists the sorted unique field of view ids present in the store
func (s *Store) FieldsOfView() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if _, fov, ok := splitManifestName(e.Name()); ok {
			seen[fov] = true
		}
	}
	fovs := make([]string, 0, len(seen))
	for fov := range seen {
		fovs = append(fovs, fov)
	}
	sort.Strings(fovs)
	return fovs, nil
}

// Views lists the sorted view names present for one field of view
func (s *Store) Views(fov string) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	views := []string{}
	for _, e := range entries {
		if view, f, ok := splitManifestName(e.Name()); ok && f == fov {
			views = append(views, view)
		}
	}
	sort.Strings(views)
	return views, nil
}

// LoadStack assembles the 5-D stack for one view of one field of view from its
// manifest and tile files
func (s *Store) LoadStack(view, fov string) (*stack.Stack, error) {
	name := ManifestName(view, fov)
	m, err := LoadManifest(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	sh := m.Shape
	if sh.Rounds <= 0 || sh.Chs <= 0 || sh.Zplanes <= 0 || sh.Height <= 0 || sh.Width <= 0 {
		return nil, fmt.Errorf("%w: manifest %s has invalid shape %+v", errs.Storage, name, sh)
	}

	st := stack.NewStack(sh.Rounds, sh.Chs, sh.Zplanes, sh.Height, sh.Width, nil)
	st.View, st.Fov = view, fov

	filled := make([]bool, st.NumPlanes())
	for _, t := range m.Tiles {
		if t.Round < 0 || t.Round >= sh.Rounds || t.Ch < 0 || t.Ch >= sh.Chs ||
			t.Zplane < 0 || t.Zplane >= sh.Zplanes {
			return nil, fmt.Errorf("%w: tile %s indices (r%d c%d z%d) outside shape %+v",
				errs.Storage, t.File, t.Round, t.Ch, t.Zplane, sh)
		}
		if s.Verify && t.Sha256 != "" {
			hash, err := fileSha256(s.path(t.File))
			if err != nil {
				return nil, fmt.Errorf("%w: hashing %s: %v", errs.Storage, t.File, err)
			}
			if hash != t.Sha256 {
				return nil, fmt.Errorf("%w: checksum mismatch for %s", errs.Storage, t.File)
			}
		}
		data, width, height, err := ReadTIFF16FromFile(s.path(t.File))
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", errs.Storage, t.File, err)
		}
		if width != sh.Width || height != sh.Height {
			return nil, fmt.Errorf("%w: tile %s is %dx%d; manifest says %dx%d",
				errs.Storage, t.File, width, height, sh.Width, sh.Height)
		}
		copy(st.Plane(t.Round, t.Ch, t.Zplane), data)
		filled[(t.Round*sh.Chs+t.Ch)*sh.Zplanes+t.Zplane] = true
	}
	for i, ok := range filled {
		if !ok {
			z := int32(i) % sh.Zplanes
			c := (int32(i) / sh.Zplanes) % sh.Chs
			r := int32(i) / (sh.Zplanes * sh.Chs)
			return nil, fmt.Errorf("%w: manifest %s misses tile r%d c%d z%d", errs.Storage, name, r, c, z)
		}
	}
	return st, nil
}

// SaveStack writes every plane of the stack as a 16-bit grayscale TIFF tile
// named after the stack's view and field of view
func (s *Store) SaveStack(st *stack.Stack) error {
	for r := int32(0); r < st.Rounds; r++ {
		for c := int32(0); c < st.Chs; c++ {
			for z := int32(0); z < st.Zs; z++ {
				name := TileName(st.View, st.Fov, c, r, z)
				if err := WriteTIFF16ToFile(s.path(name), st.Plane(r, c, z), st.Width, st.Height); err != nil {
					return fmt.Errorf("%w: writing %s: %v", errs.Storage, name, err)
				}
			}
		}
	}
	return nil
}

// PatchMetadata copies the view manifests of one field of view from src into
// this store, recomputing each tile's sha256 over the image files saved here.
// Manifest keys beyond the tile list pass through unmodified
func (s *Store) PatchMetadata(src *Store, fov string, log io.Writer) error {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	for _, e := range entries {
		if _, f, ok := splitManifestName(e.Name()); !ok || f != fov {
			continue
		}
		raw, err := os.ReadFile(src.path(e.Name()))
		if err != nil {
			return fmt.Errorf("%w: %v", errs.Storage, err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("%w: parsing %s: %v", errs.Storage, e.Name(), err)
		}
		tiles, ok := data["tiles"].([]interface{})
		if !ok {
			return fmt.Errorf("%w: manifest %s lacks a tiles list", errs.Storage, e.Name())
		}
		for _, ti := range tiles {
			tile, ok := ti.(map[string]interface{})
			if !ok {
				return fmt.Errorf("%w: manifest %s has a malformed tile entry", errs.Storage, e.Name())
			}
			file, ok := tile["file"].(string)
			if !ok {
				return fmt.Errorf("%w: manifest %s has a tile without file name", errs.Storage, e.Name())
			}
			hash, err := fileSha256(s.path(file))
			if err != nil {
				return fmt.Errorf("%w: hashing %s: %v", errs.Storage, file, err)
			}
			tile["sha256"] = hash
			fmt.Fprintf(log, "\tupdated hash for %s\n", file)
		}
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: encoding %s: %v", errs.Storage, e.Name(), err)
		}
		if err := os.WriteFile(s.path(e.Name()), out, 0644); err != nil {
			return fmt.Errorf("%w: %v", errs.Storage, err)
		}
		fmt.Fprintf(log, "saved %s with modified hashes\n", e.Name())
	}
	return nil
}

// CopyAncillary copies the remaining experiment files from src verbatim,
// skipping image tiles, log files and the per field of view manifests which
// PatchMetadata handles
func (s *Store) CopyAncillary(src *Store, log io.Writer) error {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".tiff") || strings.HasSuffix(name, ".log") {
			continue
		}
		if _, _, ok := splitManifestName(name); ok {
			continue
		}
		data, err := os.ReadFile(src.path(name))
		if err != nil {
			return fmt.Errorf("%w: %v", errs.Storage, err)
		}
		if err := os.WriteFile(s.path(name), data, 0644); err != nil {
			return fmt.Errorf("%w: %v", errs.Storage, err)
		}
		fmt.Fprintf(log, "copied %s\n", name)
	}
	return nil
}

func fileSha256(fileName string) (string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return "", err
	}
	defer file.Close()
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
