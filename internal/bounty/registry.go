package bounty

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/killtracker/internal/types"
)

//go:embed targets.yaml
var defaultTargets []byte

type registryFile struct {
	Targets []types.BountyTarget `yaml:"targets"`
}

// Registry maps normalized handles to bounty targets. It is immutable after
// loading.
type Registry struct {
	targets map[string]types.BountyTarget
}

// DefaultRegistry returns the registry compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultTargets)
}

// LoadRegistry reads a YAML registry from path.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bounty registry: %w", err)
	}
	return ParseRegistry(b)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse bounty registry: %w", err)
	}
	return NewRegistry(f.Targets), nil
}

func NewRegistry(targets []types.BountyTarget) *Registry {
	r := &Registry{targets: make(map[string]types.BountyTarget, len(targets))}
	for _, t := range targets {
		key := Normalize(t.Handle)
		if key == "" {
			continue
		}
		r.targets[key] = t
	}
	return r
}

// Lookup finds the target for a raw handle as it appears in the log.
func (r *Registry) Lookup(handle string) (types.BountyTarget, bool) {
	t, ok := r.targets[Normalize(handle)]
	return t, ok
}

func (r *Registry) Len() int { return len(r.targets) }

// Normalize trims whitespace and quotes, drops a clan tag suffix starting at
// '[' and lowercases the handle.
func Normalize(handle string) string {
	h := strings.Trim(strings.TrimSpace(handle), `'"`)
	if i := strings.IndexByte(h, '['); i >= 0 {
		h = h[:i]
	}
	return strings.ToLower(h)
}
