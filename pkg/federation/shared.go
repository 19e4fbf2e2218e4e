package federation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"go.uber.org/zap"
)

// SharedDecl is the host's declaration of a dependency it shares.
// RequiredVersion, when set, is the range a container's own version must
// satisfy before it may bind to the host's copy.
type SharedDecl struct {
	Name            string
	Version         string
	RequiredVersion string
	Singleton       bool
}

// SharedInstance is one loaded copy of a shared dependency.
type SharedInstance struct {
	Name     string
	Version  string
	Owner    string // container that loaded this copy
	LoadedAt time.Time
}

// SharedRegistry tracks which copies of shared dependencies are active in
// the process. The first loader of a name wins; later compatible requesters
// reuse its instance and entries are never overwritten. Reset clears the
// registry at teardown.
type SharedRegistry struct {
	mu        sync.RWMutex
	host      string
	declared  map[string]SharedDecl
	instances map[string][]*SharedInstance
	metrics   *Metrics
	logger    *zap.Logger
}

// NewSharedRegistry creates a registry and loads the host's own copies of
// its declared dependencies.
func NewSharedRegistry(host string, decls []SharedDecl, logger *zap.Logger) *SharedRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &SharedRegistry{
		host:      host,
		declared:  make(map[string]SharedDecl, len(decls)),
		instances: make(map[string][]*SharedInstance),
		logger:    logger,
	}
	for _, d := range decls {
		r.declared[d.Name] = d
		r.instances[d.Name] = []*SharedInstance{{
			Name:     d.Name,
			Version:  d.Version,
			Owner:    host,
			LoadedAt: time.Now(),
		}}
	}
	return r
}

// Declared reports whether the host shares name.
func (r *SharedRegistry) Declared(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.declared[name]
	return ok
}

// Negotiate binds each dependency a container declares to an instance:
// the active one when the host shares it and versions are compatible,
// otherwise a new copy owned by the container.
func (r *SharedRegistry) Negotiate(container string, specs map[string]SharedSpec) map[string]*SharedInstance {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	bindings := make(map[string]*SharedInstance, len(specs))
	for _, name := range names {
		spec := specs[name]
		active := r.instances[name]
		_, hostShares := r.declared[name]

		if hostShares && len(active) > 0 {
			ok, reason := Compatible(active[0].Version, spec)
			if ok {
				ok, reason = r.accepts(name, spec)
			}
			if ok {
				bindings[name] = active[0]
				if r.metrics != nil {
					r.metrics.SharedReused.WithLabelValues(name).Inc()
				}
				r.logger.Debug("Reusing shared dependency",
					zap.String("container", container),
					zap.String("dependency", name),
					zap.String("version", active[0].Version),
					zap.String("owner", active[0].Owner))
				continue
			} else if spec.Singleton || r.declared[name].Singleton {
				r.logger.Warn("Singleton shared dependency loaded twice",
					zap.String("container", container),
					zap.String("dependency", name),
					zap.String("active_version", active[0].Version),
					zap.String("requested_version", spec.Version),
					zap.String("reason", reason))
			}
		}

		inst := &SharedInstance{
			Name:     name,
			Version:  spec.Version,
			Owner:    container,
			LoadedAt: time.Now(),
		}
		r.instances[name] = append(active, inst)
		bindings[name] = inst
		if r.metrics != nil && len(active) > 0 {
			r.metrics.SharedDuplicated.WithLabelValues(name).Inc()
		}
		r.logger.Debug("Loaded container copy of shared dependency",
			zap.String("container", container),
			zap.String("dependency", name),
			zap.String("version", spec.Version))
	}

	if r.metrics != nil {
		for _, name := range names {
			r.metrics.SharedInstances.WithLabelValues(name).Set(float64(len(r.instances[name])))
		}
	}
	return bindings
}

// accepts checks a container's version against the host's required range.
func (r *SharedRegistry) accepts(name string, spec SharedSpec) (bool, string) {
	rng := r.declared[name].RequiredVersion
	if rng == "" || spec.Version == "" {
		return true, ""
	}
	ok, err := Satisfies(spec.Version, rng)
	if err != nil {
		return false, err.Error()
	}
	if !ok {
		return false, fmt.Sprintf("host requires %s, container provides %s", rng, spec.Version)
	}
	return true, ""
}

// Active returns the loaded instances of name, first loader first.
func (r *SharedRegistry) Active(name string) []*SharedInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SharedInstance, len(r.instances[name]))
	copy(out, r.instances[name])
	return out
}

// Names returns every dependency name with at least one instance.
func (r *SharedRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for n := range r.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset drops every instance, including the host's own.
func (r *SharedRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string][]*SharedInstance)
}

// Compatible reports whether an active version satisfies a container's
// declaration. Unknown versions on either side are treated as compatible.
// Without a requiredVersion the container's own version is used as a caret
// range, so the active copy must share its major version and be no older.
func Compatible(active string, spec SharedSpec) (bool, string) {
	rng := spec.RequiredVersion
	if rng == "" {
		if spec.Version == "" {
			return true, ""
		}
		rng = "^" + spec.Version
	}
	if active == "" {
		return true, ""
	}

	ok, err := Satisfies(active, rng)
	if err != nil {
		return false, err.Error()
	}
	if !ok {
		return false, fmt.Sprintf("%s does not satisfy %s", active, rng)
	}
	return true, ""
}

// Satisfies checks version against a range: "*", "x.y.z", "^x.y.z",
// "~x.y.z" or ">=x.y.z".
func Satisfies(version, rng string) (bool, error) {
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}

	rng = strings.TrimSpace(rng)
	if rng == "*" || rng == "" {
		return true, nil
	}

	var op string
	for _, prefix := range []string{">=", "^", "~"} {
		if strings.HasPrefix(rng, prefix) {
			op = prefix
			rng = strings.TrimSpace(strings.TrimPrefix(rng, prefix))
			break
		}
	}

	min, err := semver.NewVersion(strings.TrimPrefix(rng, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid version range %q: %w", rng, err)
	}

	if v.LessThan(*min) {
		return false, nil
	}

	switch op {
	case "":
		return v.Equal(*min), nil
	case ">=":
		return true, nil
	case "~":
		return v.Major == min.Major && v.Minor == min.Minor, nil
	default: // ^
		if min.Major == 0 {
			return v.Major == 0 && v.Minor == min.Minor, nil
		}
		return v.Major == min.Major, nil
	}
}
