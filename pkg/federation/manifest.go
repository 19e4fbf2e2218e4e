package federation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ModuleKind names what an exposed module evaluates to on the host.
type ModuleKind string

const (
	KindComponent ModuleKind = "component"
	KindStore     ModuleKind = "store"
)

// Manifest is the remote entry document a container publishes. It maps each
// exposed path to the chunk that defines it and lists the dependencies the
// container is willing to share.
type Manifest struct {
	Name    string                `json:"name"`
	Exposes map[string]Expose     `json:"exposes"`
	Shared  map[string]SharedSpec `json:"shared,omitempty"`
}

// Expose points at the chunk holding one exposed module.
type Expose struct {
	Chunk string     `json:"chunk"`
	Kind  ModuleKind `json:"kind,omitempty"`
}

// SharedSpec is a remote's declaration of a shared dependency.
type SharedSpec struct {
	Version         string `json:"version"`
	RequiredVersion string `json:"requiredVersion,omitempty"`
	Singleton       bool   `json:"singleton,omitempty"`
}

// ModuleDefinition is the decoded content of a module chunk.
type ModuleDefinition struct {
	Kind     ModuleKind `json:"kind"`
	Name     string     `json:"name,omitempty"`
	Template string     `json:"template,omitempty"`
	Props    []string   `json:"props,omitempty"`
	Initial  int        `json:"initial,omitempty"`
	Requires []string   `json:"requires,omitempty"`
}

// ParseManifest decodes and validates a remote entry document. Exposed paths
// are normalized to the "./name" form.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw Manifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode remote entry: %w", err)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("remote entry has no container name")
	}

	m := &Manifest{
		Name:    raw.Name,
		Exposes: make(map[string]Expose, len(raw.Exposes)),
		Shared:  raw.Shared,
	}
	for path, exp := range raw.Exposes {
		normalized := NormalizeExposed(path)
		if normalized == "" {
			return nil, fmt.Errorf("remote entry exposes an empty path")
		}
		if strings.TrimSpace(exp.Chunk) == "" {
			return nil, fmt.Errorf("exposed module %s has no chunk", normalized)
		}
		if _, dup := m.Exposes[normalized]; dup {
			return nil, fmt.Errorf("exposed module %s declared twice", normalized)
		}
		m.Exposes[normalized] = exp
	}
	if m.Shared == nil {
		m.Shared = map[string]SharedSpec{}
	}
	return m, nil
}

// ExposedPaths returns the exposed module paths in sorted order.
func (m *Manifest) ExposedPaths() []string {
	paths := make([]string, 0, len(m.Exposes))
	for p := range m.Exposes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SharedNames returns the shared dependency names in sorted order.
func (m *Manifest) SharedNames() []string {
	names := make([]string, 0, len(m.Shared))
	for n := range m.Shared {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ChunkURL resolves an exposed module's chunk against the entry URL.
func (m *Manifest) ChunkURL(entryURL, exposed string) (string, error) {
	exp, ok := m.Exposes[exposed]
	if !ok {
		return "", fmt.Errorf("%s is not exposed by %s", exposed, m.Name)
	}
	base, err := url.Parse(entryURL)
	if err != nil {
		return "", fmt.Errorf("invalid entry url: %w", err)
	}
	ref, err := url.Parse(exp.Chunk)
	if err != nil {
		return "", fmt.Errorf("invalid chunk path %q: %w", exp.Chunk, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ParseModuleDefinition decodes and validates a module chunk.
func ParseModuleDefinition(data []byte) (*ModuleDefinition, error) {
	var def ModuleDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode module chunk: %w", err)
	}
	switch def.Kind {
	case KindComponent:
		if def.Template == "" {
			return nil, fmt.Errorf("component module has no template")
		}
	case KindStore:
	case "":
		return nil, fmt.Errorf("module chunk has no kind")
	default:
		return nil, fmt.Errorf("unsupported module kind %q", def.Kind)
	}
	return &def, nil
}
