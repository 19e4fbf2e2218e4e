package federation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RemoteModuleLoader resolves a module exposed by a remote container.
type RemoteModuleLoader interface {
	Resolve(ctx context.Context, container, exportPath string) (*ModuleHandle, error)
}

// ModuleHandle is a resolved exposed module together with the shared
// dependency instances its container was bound to.
type ModuleHandle struct {
	Ref        ModuleRef
	URL        string
	Definition ModuleDefinition
	Shared     map[string]*SharedInstance
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Host         string            // host container name, owner of its shared copies
	Remotes      map[string]string // remote name -> entry URL
	Shared       []SharedDecl
	Fetcher      *Fetcher
	Metrics      *Metrics
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Loader fetches each remote entry at most once, lazily on first reference,
// and each exposed module chunk at most once. Failures are terminal for the
// lifetime of the loader.
type Loader struct {
	fetcher      *Fetcher
	shared       *SharedRegistry
	metrics      *Metrics
	logger       *zap.Logger
	fetchTimeout time.Duration

	mu         sync.Mutex
	containers map[string]*containerEntry
	modules    map[ModuleRef]*moduleEntry
	observers  []Observer
}

type containerEntry struct {
	name     string
	entryURL string
	state    LoadState
	done     chan struct{}

	// set once before done is closed
	manifest *Manifest
	bindings map[string]*SharedInstance
	err      *LoadError
	loadedAt time.Time
}

type moduleEntry struct {
	ref   ModuleRef
	state LoadState
	done  chan struct{}

	handle *ModuleHandle
	err    *LoadError
}

var _ RemoteModuleLoader = (*Loader)(nil)

// NewLoader creates a loader for the configured remotes. It performs no I/O.
func NewLoader(opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(nil, logger)
	}
	fetcher.metrics = metrics
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	shared := NewSharedRegistry(opts.Host, opts.Shared, logger)
	shared.metrics = metrics
	for _, d := range opts.Shared {
		metrics.SharedInstances.WithLabelValues(d.Name).Set(1)
	}

	l := &Loader{
		fetcher:      fetcher,
		shared:       shared,
		metrics:      metrics,
		logger:       logger,
		fetchTimeout: timeout,
		containers:   make(map[string]*containerEntry, len(opts.Remotes)),
		modules:      make(map[ModuleRef]*moduleEntry),
	}
	for name, entry := range opts.Remotes {
		l.containers[name] = &containerEntry{
			name:     name,
			entryURL: entry,
			state:    StateUnloaded,
			done:     make(chan struct{}),
		}
		metrics.RemoteState.WithLabelValues(name).Set(float64(StateUnloaded))
	}

	l.Observe(func(ev Event) {
		if ev.Exposed == "" {
			metrics.RemoteState.WithLabelValues(ev.Container).Set(float64(ev.State))
		}
	})
	return l
}

// Shared returns the registry of shared dependency instances.
func (l *Loader) Shared() *SharedRegistry {
	return l.shared
}

// Metrics returns the loader's metrics.
func (l *Loader) Metrics() *Metrics {
	return l.metrics
}

// Observe registers fn for every subsequent state transition.
func (l *Loader) Observe(fn Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Remotes returns the configured remote names in sorted order.
func (l *Loader) Remotes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.containers))
	for name := range l.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the module exposed by container at exportPath. The first
// call for a container triggers its entry fetch; concurrent and later calls
// share that result. When ctx ends first, ctx.Err() is returned while the
// fetch keeps running and its result is cached for the next caller.
func (l *Loader) Resolve(ctx context.Context, container, exportPath string) (*ModuleHandle, error) {
	ref, err := NewModuleRef(container, exportPath)
	if err != nil {
		return nil, err
	}

	handle, err := l.resolve(ctx, ref)

	res := result(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		res = "pending"
	}
	l.metrics.Resolutions.WithLabelValues(ref.Container, ref.Name(), res).Inc()

	if err != nil {
		l.logger.Debug("Module resolution failed",
			zap.String("module", ref.String()),
			zap.Error(err))
	}
	return handle, err
}

// LoadRemote makes sure the remote entry of container is loaded and returns
// its manifest.
func (l *Loader) LoadRemote(ctx context.Context, container string) (*Manifest, error) {
	c, err := l.loadContainer(ctx, ModuleRef{Container: container})
	if err != nil {
		return nil, err
	}
	return c.manifest, nil
}

func (l *Loader) resolve(ctx context.Context, ref ModuleRef) (*ModuleHandle, error) {
	c, err := l.loadContainer(ctx, ref)
	if err != nil {
		return nil, err
	}

	if _, ok := c.manifest.Exposes[ref.Exposed]; !ok {
		return nil, newLoadError(ErrMissingExport, ref, nil)
	}

	m := l.moduleEntry(c, ref)
	if err := wait(ctx, m.done); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.handle, nil
}

func (l *Loader) loadContainer(ctx context.Context, ref ModuleRef) (*containerEntry, error) {
	l.mu.Lock()
	c, ok := l.containers[ref.Container]
	if !ok {
		l.mu.Unlock()
		return nil, newLoadError(ErrUnknownRemote, ref, nil)
	}
	start := c.state == StateUnloaded
	if start {
		c.state = StateLoading
	}
	l.mu.Unlock()

	if start {
		l.notify(Event{Container: c.name, State: StateLoading})
		go l.fetchManifest(c)
	}

	if err := wait(ctx, c.done); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, &LoadError{Kind: c.err.Kind, Container: ref.Container, Exposed: ref.Exposed, Err: c.err.Err}
	}
	return c, nil
}

// fetchManifest runs detached from any caller context.
func (l *Loader) fetchManifest(c *containerEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.fetchTimeout)
	defer cancel()

	l.logger.Info("Fetching remote entry",
		zap.String("remote", c.name),
		zap.String("url", c.entryURL))

	start := time.Now()
	body, err := l.fetcher.Fetch(ctx, c.entryURL)
	l.metrics.FetchLatency.Observe(time.Since(start).Seconds())
	l.metrics.ManifestFetches.WithLabelValues(c.name, result(err)).Inc()

	var (
		manifest *Manifest
		bindings map[string]*SharedInstance
		loadErr  *LoadError
	)
	if err != nil {
		loadErr = &LoadError{Kind: ErrManifestFetch, Container: c.name, Err: err}
	} else if manifest, err = ParseManifest(body); err != nil {
		loadErr = &LoadError{Kind: ErrInvalidManifest, Container: c.name, Err: err}
	} else {
		if manifest.Name != c.name {
			l.logger.Debug("Remote entry declares a different container name",
				zap.String("remote", c.name),
				zap.String("declared", manifest.Name))
		}
		bindings = l.shared.Negotiate(c.name, manifest.Shared)
	}

	l.mu.Lock()
	c.manifest = manifest
	c.bindings = bindings
	c.err = loadErr
	c.loadedAt = time.Now()
	if loadErr != nil {
		c.state = StateFailed
	} else {
		c.state = StateReady
	}
	state := c.state
	l.mu.Unlock()

	// Observers see the terminal state before any waiter wakes.
	defer close(c.done)

	if loadErr != nil {
		l.logger.Warn("Remote entry unavailable",
			zap.String("remote", c.name),
			zap.String("url", c.entryURL),
			zap.Error(loadErr))
		l.notify(Event{Container: c.name, State: state, Err: loadErr})
		return
	}

	l.logger.Info("Remote entry loaded",
		zap.String("remote", c.name),
		zap.Strings("exposes", manifest.ExposedPaths()),
		zap.Duration("elapsed", time.Since(start)))
	l.notify(Event{Container: c.name, State: state})
}

func (l *Loader) moduleEntry(c *containerEntry, ref ModuleRef) *moduleEntry {
	l.mu.Lock()
	m, ok := l.modules[ref]
	if !ok {
		m = &moduleEntry{ref: ref, state: StateLoading, done: make(chan struct{})}
		l.modules[ref] = m
	}
	l.mu.Unlock()

	if !ok {
		l.notify(Event{Container: ref.Container, Exposed: ref.Exposed, State: StateLoading})
		go l.fetchChunk(c, m)
	}
	return m
}

func (l *Loader) fetchChunk(c *containerEntry, m *moduleEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.fetchTimeout)
	defer cancel()

	var (
		handle  *ModuleHandle
		loadErr *LoadError
	)

	url, err := c.manifest.ChunkURL(c.entryURL, m.ref.Exposed)
	if err != nil {
		loadErr = newLoadError(ErrChunkFetch, m.ref, err)
	} else {
		start := time.Now()
		body, err := l.fetcher.Fetch(ctx, url)
		l.metrics.FetchLatency.Observe(time.Since(start).Seconds())
		l.metrics.ChunkFetches.WithLabelValues(c.name, result(err)).Inc()

		if err != nil {
			loadErr = newLoadError(ErrChunkFetch, m.ref, err)
		} else if def, err := ParseModuleDefinition(body); err != nil {
			loadErr = newLoadError(ErrInvalidModule, m.ref, err)
		} else {
			handle = &ModuleHandle{
				Ref:        m.ref,
				URL:        url,
				Definition: *def,
				Shared:     bindingsFor(def, c.bindings),
			}
		}
	}

	l.mu.Lock()
	m.handle = handle
	m.err = loadErr
	if loadErr != nil {
		m.state = StateFailed
	} else {
		m.state = StateReady
	}
	state := m.state
	l.mu.Unlock()
	defer close(m.done)

	if loadErr != nil {
		l.logger.Warn("Exposed module unavailable",
			zap.String("module", m.ref.String()),
			zap.Error(loadErr))
		l.notify(Event{Container: m.ref.Container, Exposed: m.ref.Exposed, State: state, Err: loadErr})
		return
	}
	l.notify(Event{Container: m.ref.Container, Exposed: m.ref.Exposed, State: state})
}

// bindingsFor narrows the container bindings to what the module requires;
// modules that declare nothing see every binding.
func bindingsFor(def *ModuleDefinition, all map[string]*SharedInstance) map[string]*SharedInstance {
	if len(def.Requires) == 0 {
		return all
	}
	out := make(map[string]*SharedInstance, len(def.Requires))
	for _, name := range def.Requires {
		if inst, ok := all[name]; ok {
			out[name] = inst
		}
	}
	return out
}

// Snapshot reports the state of every configured remote.
func (l *Loader) Snapshot() []RemoteStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RemoteStatus, 0, len(l.containers))
	for _, c := range l.containers {
		rs := RemoteStatus{
			Name:     c.name,
			EntryURL: c.entryURL,
			State:    c.state,
			LoadedAt: c.loadedAt,
		}
		if c.state.Terminal() {
			if c.manifest != nil {
				rs.Exposes = c.manifest.ExposedPaths()
			}
			if c.err != nil {
				rs.Error = c.err.Error()
			}
			if len(c.bindings) > 0 {
				rs.Shared = make(map[string]string, len(c.bindings))
				for name, inst := range c.bindings {
					rs.Shared[name] = inst.Owner
				}
			}
		}
		for ref, m := range l.modules {
			if ref.Container != c.name {
				continue
			}
			if rs.Modules == nil {
				rs.Modules = make(map[string]LoadState)
			}
			rs.Modules[ref.Exposed] = m.state
		}
		out = append(out, rs)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close clears the shared registry. In-flight fetches finish on their own.
func (l *Loader) Close() error {
	l.shared.Reset()
	return nil
}

func (l *Loader) notify(ev Event) {
	l.mu.Lock()
	observers := make([]Observer, len(l.observers))
	copy(observers, l.observers)
	l.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
