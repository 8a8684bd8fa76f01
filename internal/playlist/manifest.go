package playlist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// maxManifestDepth bounds manifests that list other manifests.
const maxManifestDepth = 8

// Manifest is a playlist file:
//
//	loop: shuffle
//	volume: 0.6
//	sounds: ./sounds
//	entries:
//	  - intro.nbs
//	  - songs/
//	  - https://example.com/theme.nbs
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Loop   *LoopType // nil when not set
	Volume *float64  // nil when not set
	Sounds string
	Files  []Entry
}

type manifestFile struct {
	Loop    string   `yaml:"loop"`
	Volume  *float64 `yaml:"volume"`
	Sounds  string   `yaml:"sounds"`
	Entries []string `yaml:"entries"`
}

// LoadManifest parses a manifest from r, resolving relative paths against
// baseDir.
func LoadManifest(r io.Reader, baseDir string) (*Manifest, error) {
	return loadManifest(r, baseDir, 0)
}

// LoadManifestFile reads and parses the manifest at path.
func LoadManifestFile(path string) (*Manifest, error) {
	return loadManifestFile(path, 0)
}

func loadManifestFile(path string, depth int) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := loadManifest(f, filepath.Dir(path), depth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func loadManifest(r io.Reader, baseDir string, depth int) (*Manifest, error) {
	if depth > maxManifestDepth {
		return nil, errors.New("playlist: manifests nested too deeply")
	}
	var raw manifestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("playlist: manifest: %w", err)
	}
	m := &Manifest{Volume: raw.Volume}
	if raw.Loop != "" {
		loop, err := ParseLoopType(raw.Loop)
		if err != nil {
			return nil, err
		}
		m.Loop = &loop
	}
	if raw.Volume != nil && *raw.Volume < 0 {
		return nil, fmt.Errorf("playlist: negative volume %v", *raw.Volume)
	}
	if raw.Sounds != "" {
		m.Sounds = resolvePath(baseDir, raw.Sounds)
	}
	paths := make([]string, 0, len(raw.Entries))
	for _, p := range raw.Entries {
		if p == "" {
			continue
		}
		paths = append(paths, resolvePath(baseDir, p))
	}
	files, err := expandPaths(paths, depth+1)
	if err != nil {
		return nil, err
	}
	m.Files = files
	return m, nil
}

func resolvePath(baseDir, p string) string {
	if isURL(p) || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
