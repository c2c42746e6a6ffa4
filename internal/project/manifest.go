package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultManifestName is looked up when a directory is given.
const DefaultManifestName = "candid.yaml"

// Manifest lists the canisters whose interfaces are extracted together.
//
//	canisters:
//	  - name: backend
//	    wasm: target/wasm32-unknown-unknown/release/backend.wasm
//	    candid: src/backend/backend.did
type Manifest struct {
	Canisters []Canister `yaml:"canisters"`

	// Internal fields
	path string // Manifest file path
}

// Canister is one module to extract. Relative paths are resolved against
// the manifest's directory.
type Canister struct {
	Name   string `yaml:"name"`
	Wasm   string `yaml:"wasm"`
	Candid string `yaml:"candid,omitempty"` // optional output file
}

// ParseManifest reads and validates a manifest. path may be the manifest
// file itself or a directory containing candid.yaml.
func ParseManifest(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultManifestName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: path,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: path,
			Err:  err,
		}
	}

	m.path = path

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if len(m.Canisters) == 0 {
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "canisters",
			Message: "at least one canister is required",
		}
	}

	seen := make(map[string]bool, len(m.Canisters))
	for i, c := range m.Canisters {
		if c.Name == "" {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   fmt.Sprintf("canisters[%d].name", i),
				Message: "name is required",
			}
		}

		if seen[c.Name] {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   fmt.Sprintf("canisters[%d].name", i),
				Message: fmt.Sprintf("duplicate canister name: %s", c.Name),
			}
		}
		seen[c.Name] = true

		if c.Wasm == "" {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   fmt.Sprintf("canisters[%d].wasm", i),
				Message: "wasm is required",
			}
		}

		if _, err := os.Stat(m.WasmPath(c)); os.IsNotExist(err) {
			return &WasmNotFoundError{
				ManifestPath: m.path,
				Canister:     c.Name,
				WasmFile:     c.Wasm,
			}
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.path)
}

// WasmPath returns the Wasm file path of a canister.
func (m *Manifest) WasmPath(c Canister) string {
	return m.resolve(c.Wasm)
}

// CandidPath returns the output path of a canister, or "" if none is set.
func (m *Manifest) CandidPath(c Canister) string {
	if c.Candid == "" {
		return ""
	}
	return m.resolve(c.Candid)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir(), p)
}
