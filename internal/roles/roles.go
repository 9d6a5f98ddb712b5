// Package roles loads the known-role registry from a YAML file. Roles
// gate delegation: an unknown role cannot receive work, and orchestrator
// roles carry extra restrictions on whom they may delegate to.
package roles

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// ErrRoleNotFound means the role is not in the registry.
var ErrRoleNotFound = errors.New("role not found")

// Role is one validated entry from the roles file.
type Role struct {
	Name         string `koanf:"name" json:"name"`
	Category     string `koanf:"category" json:"category"`
	Model        string `koanf:"model" json:"model,omitempty"`
	Orchestrator bool   `koanf:"orchestrator" json:"orchestrator,omitempty"`
	PromptPath   string `koanf:"prompt_path" json:"prompt_path,omitempty"`
}

type rolesFile struct {
	Roles []Role `koanf:"roles"`
}

// Registry answers role lookups. Immutable after Load.
type Registry struct {
	byName map[string]Role
}

// Load reads and validates a roles YAML file. Malformed entries fail the
// whole load; a half-trusted role registry is worse than none.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roles file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing roles file: %w", err)
	}

	var rf rolesFile
	if err := k.Unmarshal("", &rf); err != nil {
		return nil, fmt.Errorf("unmarshaling roles file: %w", err)
	}
	if len(rf.Roles) == 0 {
		return nil, fmt.Errorf("roles file %s defines no roles", path)
	}

	byName := make(map[string]Role, len(rf.Roles))
	for i, r := range rf.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("roles file %s: entry %d has no name", path, i)
		}
		if r.Category == "" {
			return nil, fmt.Errorf("roles file %s: role %q has no category", path, r.Name)
		}
		if _, dup := byName[r.Name]; dup {
			return nil, fmt.Errorf("roles file %s: duplicate role %q", path, r.Name)
		}
		byName[r.Name] = r
	}

	logger.Info("loaded role registry",
		zap.String("path", path), zap.Int("roles", len(byName)))
	return &Registry{byName: byName}, nil
}

// NewStatic builds a registry from in-memory roles, for tests and
// embedded defaults.
func NewStatic(rs ...Role) *Registry {
	byName := make(map[string]Role, len(rs))
	for _, r := range rs {
		byName[r.Name] = r
	}
	return &Registry{byName: byName}
}

// Lookup returns the role by name.
func (r *Registry) Lookup(name string) (Role, error) {
	role, ok := r.byName[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}
	return role, nil
}

// Known reports whether name is a registered role.
func (r *Registry) Known(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// IsOrchestrator reports whether name is a registered orchestrator role.
func (r *Registry) IsOrchestrator(name string) bool {
	role, ok := r.byName[name]
	return ok && role.Orchestrator
}

// Names returns all role names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
