package federation

import (
	"fmt"
	"time"
)

// LoadState is the lifecycle of a remote container or module reference:
// unloaded -> loading -> ready | failed. Ready and failed are terminal.
type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LoadState) UnmarshalText(text []byte) error {
	for _, candidate := range []LoadState{StateUnloaded, StateLoading, StateReady, StateFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown load state %q", string(text))
}

// Terminal reports whether no further transition can happen.
func (s LoadState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Event is a state transition on a container (Exposed empty) or on one of
// its module references.
type Event struct {
	Container string
	Exposed   string
	State     LoadState
	Err       error
}

// Observer receives state transitions. Observers run on the loading
// goroutine and must not block.
type Observer func(Event)

// RemoteStatus is a point-in-time view of one configured remote.
type RemoteStatus struct {
	Name     string               `json:"name"`
	EntryURL string               `json:"entry_url"`
	State    LoadState            `json:"state"`
	Exposes  []string             `json:"exposes,omitempty"`
	Shared   map[string]string    `json:"shared,omitempty"` // name -> owner of the bound instance
	Modules  map[string]LoadState `json:"modules,omitempty"`
	Error    string               `json:"error,omitempty"`
	LoadedAt time.Time            `json:"loaded_at"`
}
