package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	// ManifestVersion guards against reading a manifest written by a newer
	// layout.
	ManifestVersion = 1

	manifestFile = "agent-manifest.json"
)

// AgentDef is one registered agent definition: a capability plus the
// markdown file (relative to the state dir) holding its role prompt.
type AgentDef struct {
	Capability  string `json:"capability"`
	Definition  string `json:"definition"`
	Description string `json:"description,omitempty"`
}

// Manifest indexes the project's agent definitions. The capability index is
// derived from the agents map on every save; readers never maintain it.
type Manifest struct {
	Version         int                 `json:"version"`
	Agents          map[string]AgentDef `json:"agents"`
	CapabilityIndex map[string][]string `json:"capabilityIndex"`
}

// NewManifest returns an empty manifest at the current version.
func NewManifest() *Manifest {
	return &Manifest{
		Version:         ManifestVersion,
		Agents:          map[string]AgentDef{},
		CapabilityIndex: map[string][]string{},
	}
}

// Register adds or replaces a named definition.
func (m *Manifest) Register(name string, def AgentDef) {
	if m.Agents == nil {
		m.Agents = map[string]AgentDef{}
	}
	m.Agents[name] = def
	m.reindex()
}

// DefinitionFor resolves a capability to a definition path via the index,
// preferring the definition named after the capability itself.
func (m *Manifest) DefinitionFor(capability string) (string, bool) {
	names := m.CapabilityIndex[capability]
	if len(names) == 0 {
		return "", false
	}
	for _, name := range names {
		if name == capability {
			return m.Agents[name].Definition, true
		}
	}
	return m.Agents[names[0]].Definition, true
}

func (m *Manifest) reindex() {
	idx := map[string][]string{}
	for name, def := range m.Agents {
		idx[def.Capability] = append(idx[def.Capability], name)
	}
	for _, names := range idx {
		sort.Strings(names)
	}
	m.CapabilityIndex = idx
}

// LoadManifest reads <stateDir>/agent-manifest.json; a missing file yields
// an empty manifest so callers need no existence check.
func LoadManifest(stateDir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(stateDir, manifestFile))
	if os.IsNotExist(err) {
		return NewManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifestFile, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("%s version %d is newer than supported %d", manifestFile, m.Version, ManifestVersion)
	}
	return &m, nil
}

// SaveManifest rewrites the manifest with a freshly derived capability index.
func SaveManifest(stateDir string, m *Manifest) error {
	m.reindex()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", manifestFile, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(stateDir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", manifestFile, err)
	}
	return nil
}
