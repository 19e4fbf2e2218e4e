package federation

import (
	"fmt"
	"strings"
)

// ModuleRef identifies an exposed module inside a remote container.
// Examples:
//   - remoteApp/Button -> {Container: remoteApp, Exposed: ./Button}
//   - remoteApp/widgets/Card -> {Container: remoteApp, Exposed: ./widgets/Card}
type ModuleRef struct {
	Container string // remoteApp
	Exposed   string // ./Button
}

// ParseModuleRef parses an import specifier of the form container/module.
func ParseModuleRef(spec string) (ModuleRef, error) {
	if spec == "" {
		return ModuleRef{}, fmt.Errorf("module specifier cannot be empty")
	}
	if strings.HasPrefix(spec, "/") {
		return ModuleRef{}, fmt.Errorf("module specifier %q must not start with /", spec)
	}

	container, path, ok := strings.Cut(spec, "/")
	if !ok {
		return ModuleRef{}, fmt.Errorf("invalid module specifier %q: expected container/module", spec)
	}
	return NewModuleRef(container, path)
}

// NewModuleRef builds a reference, normalizing the exposed path to "./name".
func NewModuleRef(container, exposed string) (ModuleRef, error) {
	if container == "" {
		return ModuleRef{}, fmt.Errorf("container name cannot be empty")
	}
	exposed = NormalizeExposed(exposed)
	if exposed == "" {
		return ModuleRef{}, fmt.Errorf("module path cannot be empty")
	}
	return ModuleRef{Container: container, Exposed: exposed}, nil
}

// NormalizeExposed turns "Button", "./Button" and "Button/" into "./Button".
// It returns "" when nothing remains.
func NormalizeExposed(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "./")
	path = strings.Trim(path, "/")
	if path == "" || path == "." {
		return ""
	}
	return "./" + path
}

// String returns the import specifier form, e.g. remoteApp/Button.
func (r ModuleRef) String() string {
	if r.Container == "" {
		return ""
	}
	return r.Container + "/" + r.Name()
}

// Name returns the exposed path without the "./" prefix.
func (r ModuleRef) Name() string {
	return strings.TrimPrefix(r.Exposed, "./")
}

// Validate checks that both parts are present and normalized.
func (r ModuleRef) Validate() error {
	if r.Container == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if strings.Contains(r.Container, "/") {
		return fmt.Errorf("container name cannot contain /")
	}
	if r.Exposed == "" {
		return fmt.Errorf("module path cannot be empty")
	}
	if NormalizeExposed(r.Exposed) != r.Exposed {
		return fmt.Errorf("module path %q is not normalized", r.Exposed)
	}
	return nil
}
