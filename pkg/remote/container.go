// Package remote serves a module federation container: a remote entry
// document describing exposed modules and shared dependencies, plus one JSON
// chunk per exposed module. The shell host consumes it through
// federation.Loader; the dev container mirrors the remoteApp the shell expects.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"mfehost/pkg/federation"

	"go.uber.org/zap"
)

const (
	// EntryPath is where the remote entry document is served.
	EntryPath = "/assets/remoteEntry.js"
	assetsDir = "/assets/"
)

// Container is a remote that exposes modules over HTTP.
type Container struct {
	name   string
	logger *zap.Logger

	mu      sync.RWMutex
	modules map[string]federation.ModuleDefinition // exposed path -> definition
	shared  map[string]federation.SharedSpec
	hits    map[string]int // request path -> count
}

// NewContainer creates an empty container.
func NewContainer(name string, logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		name:    name,
		logger:  logger,
		modules: make(map[string]federation.ModuleDefinition),
		shared:  make(map[string]federation.SharedSpec),
		hits:    make(map[string]int),
	}
}

// DevContainer builds the remoteApp container the shell application imports:
// a Button component taking a label and a counter store starting at 0.
func DevContainer(logger *zap.Logger) *Container {
	return NewContainer("remoteApp", logger).
		Expose("./Button", federation.ModuleDefinition{
			Kind:     federation.KindComponent,
			Name:     "Button",
			Template: `<button class="remote-button" type="button">{{.label}}</button>`,
			Props:    []string{"label"},
			Requires: []string{"react"},
		}).
		Expose("./store", federation.ModuleDefinition{
			Kind:     federation.KindStore,
			Name:     "store",
			Initial:  0,
			Requires: []string{"react"},
		}).
		Share("react", federation.SharedSpec{Version: "18.3.1", RequiredVersion: "^18.3.1", Singleton: true}).
		Share("react-dom", federation.SharedSpec{Version: "18.3.1", RequiredVersion: "^18.3.1", Singleton: true})
}

func (c *Container) Name() string { return c.name }

// Expose adds or replaces an exposed module.
func (c *Container) Expose(path string, def federation.ModuleDefinition) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[federation.NormalizeExposed(path)] = def
	return c
}

// Remove stops exposing path. Chunk requests for it answer 404.
func (c *Container) Remove(path string) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modules, federation.NormalizeExposed(path))
	return c
}

// Share declares a shared dependency.
func (c *Container) Share(name string, spec federation.SharedSpec) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared[name] = spec
	return c
}

// ChunkName is the file name a module chunk is served under.
func ChunkName(exposed string) string {
	name := strings.TrimPrefix(federation.NormalizeExposed(exposed), "./")
	return "__federation_expose_" + strings.ReplaceAll(name, "/", "_") + ".json"
}

// Manifest returns the remote entry document.
func (c *Container) Manifest() *federation.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := &federation.Manifest{
		Name:    c.name,
		Exposes: make(map[string]federation.Expose, len(c.modules)),
		Shared:  make(map[string]federation.SharedSpec, len(c.shared)),
	}
	for path, def := range c.modules {
		m.Exposes[path] = federation.Expose{Chunk: ChunkName(path), Kind: def.Kind}
	}
	for name, spec := range c.shared {
		m.Shared[name] = spec
	}
	return m
}

// Hits returns how many times path was requested, e.g. EntryPath.
func (c *Container) Hits(path string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits[path]
}

// Handler serves the remote entry and module chunks.
func (c *Container) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EntryPath, c.handleEntry)
	mux.HandleFunc(assetsDir, c.handleChunk)
	return mux
}

func (c *Container) handleEntry(w http.ResponseWriter, r *http.Request) {
	c.recordHit(r.URL.Path)
	c.writeJSON(w, c.Manifest())
}

func (c *Container) handleChunk(w http.ResponseWriter, r *http.Request) {
	c.recordHit(r.URL.Path)

	file := strings.TrimPrefix(r.URL.Path, assetsDir)
	c.mu.RLock()
	var (
		def   federation.ModuleDefinition
		found bool
	)
	for path, d := range c.modules {
		if ChunkName(path) == file {
			def, found = d, true
			break
		}
	}
	c.mu.RUnlock()

	if !found {
		http.NotFound(w, r)
		return
	}
	c.writeJSON(w, def)
}

func (c *Container) recordHit(path string) {
	c.mu.Lock()
	c.hits[path]++
	c.mu.Unlock()
}

func (c *Container) writeJSON(w http.ResponseWriter, v any) {
	// Remote entries are fetched cross-origin by hosts.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// ExposedPaths lists exposed paths in sorted order.
func (c *Container) ExposedPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.modules))
	for p := range c.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Serve listens on addr until ctx is cancelled.
func (c *Container) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("Serving remote container",
			zap.String("name", c.name),
			zap.String("entry", fmt.Sprintf("http://localhost%s%s", addr, EntryPath)),
			zap.Strings("exposes", c.ExposedPaths()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("remote container server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
