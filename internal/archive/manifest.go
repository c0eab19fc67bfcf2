package archive

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Manifest is the archive manifest consumed at startup or on demand: an
// ordered list of archives, each naming the modules its single fetch
// satisfies.
type Manifest struct {
	Archives []ManifestEntry `toml:"archive"`
}

type ManifestEntry struct {
	Location string   `toml:"location"`
	Modules  []string `toml:"modules"`
}

// LoadManifest reads a manifest file and registers every entry.
func (r *Registry) LoadManifest(path string) error {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return fmt.Errorf("archive: load manifest %s: %w", path, err)
	}
	return r.Apply(m)
}

// ParseManifest decodes manifest text without registering it.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("archive: parse manifest: %w", err)
	}
	return m, nil
}

// Apply registers every entry of a decoded manifest.
func (r *Registry) Apply(m Manifest) error {
	for _, entry := range m.Archives {
		if err := r.Register(entry.Location, entry.Modules); err != nil {
			return err
		}
	}
	return nil
}
