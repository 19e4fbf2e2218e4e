package federation

import (
	"errors"
	"fmt"
)

// Sentinel kinds a LoadError matches with errors.Is.
var (
	ErrUnknownRemote   = errors.New("unknown remote")
	ErrManifestFetch   = errors.New("remote entry unavailable")
	ErrInvalidManifest = errors.New("invalid remote entry")
	ErrMissingExport   = errors.New("exposed module not found")
	ErrChunkFetch      = errors.New("module chunk unavailable")
	ErrInvalidModule   = errors.New("invalid module definition")
)

// LoadError describes why a remote module reference could not be resolved.
// Manifest-level kinds affect every export of the container; the others are
// scoped to a single import.
type LoadError struct {
	Kind      error
	Container string
	Exposed   string
	Err       error
}

func (e *LoadError) Error() string {
	target := e.Container
	if e.Exposed != "" {
		target = ModuleRef{Container: e.Container, Exposed: e.Exposed}.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", target, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", target, e.Kind)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches the sentinel kind so callers can write errors.Is(err, ErrMissingExport).
func (e *LoadError) Is(target error) bool {
	return e.Kind == target
}

// ContainerWide reports whether the failure affects every export of the container.
func (e *LoadError) ContainerWide() bool {
	return e.Kind == ErrUnknownRemote || e.Kind == ErrManifestFetch || e.Kind == ErrInvalidManifest
}

func newLoadError(kind error, ref ModuleRef, err error) *LoadError {
	return &LoadError{Kind: kind, Container: ref.Container, Exposed: ref.Exposed, Err: err}
}

// StatusError is returned by the fetcher for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}
