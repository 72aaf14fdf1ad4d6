package detector

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"smireduce/internal/models"
)

// Registry maps detector IDs (and aliases) to their profiles. It is
// populated once at start-up and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	aliases  map[string]string
}

// registryFile is the on-disk form of a set of profiles
type registryFile struct {
	Detectors []*Profile `yaml:"detectors"`
}

// NewRegistry creates a registry holding the given profiles
func NewRegistry(profiles ...*Profile) (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]*Profile),
		aliases:  make(map[string]string),
	}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the built-in profiles
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		// built-in tables are covered by tests
		panic(err)
	}
	return r
}

// LoadRegistry returns the built-in profiles overlaid with the profiles
// from a YAML file. A profile in the file replaces a built-in one with
// the same ID. A missing file yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading detector file: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing detector file: %w", err)
	}
	for _, p := range file.Detectors {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SaveRegistry writes every registered profile to a YAML file
func (r *Registry) SaveRegistry(path string) error {
	file := registryFile{}
	for _, id := range r.IDs() {
		p, _ := r.Lookup(id)
		file.Detectors = append(file.Detectors, p)
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("error marshaling detectors: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing detector file: %w", err)
	}
	return nil
}

// Register adds or replaces a profile
func (r *Registry) Register(p *Profile) error {
	if p == nil {
		return &models.ConfigurationError{Field: "detector", Value: nil, Reason: "nil profile"}
	}
	if err := p.Validate(); err != nil {
		return &models.ConfigurationError{Field: "detector", Value: p.ID, Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.profiles[p.ID]; ok {
		for _, a := range old.Aliases {
			delete(r.aliases, normalise(a))
		}
	}
	r.profiles[p.ID] = p
	for _, a := range p.Aliases {
		r.aliases[normalise(a)] = p.ID
	}
	return nil
}

// Lookup finds a profile by ID or alias (aliases are case-insensitive)
func (r *Registry) Lookup(id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[id]; ok {
		return p, nil
	}
	if canonical, ok := r.aliases[normalise(id)]; ok {
		return r.profiles[canonical], nil
	}
	return nil, &models.ConfigurationError{Field: "detector", Value: id, Reason: "unknown detector"}
}

// IDs returns the registered detector IDs in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
