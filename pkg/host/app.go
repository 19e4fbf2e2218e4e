// Package host is the shell application. It renders a page composed from
// modules a remote container exposes and keeps rendering when a remote is
// slow or down.
package host

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"

	"mfehost/pkg/component"
	"mfehost/pkg/config"
	"mfehost/pkg/federation"
	"mfehost/pkg/store"

	"go.uber.org/zap"
)

const (
	Title       = "Shell Application"
	ButtonLabel = "Remote Button Counter"
)

// Remote modules the page imports.
var (
	ButtonRef = federation.ModuleRef{Container: config.DefaultRemoteName, Exposed: "./Button"}
	StoreRef  = federation.ModuleRef{Container: config.DefaultRemoteName, Exposed: "./store"}
)

// Options configures an App.
type Options struct {
	Config  *config.Config
	Loader  federation.RemoteModuleLoader
	Status  federation.StatusSource // serves /health when set
	Metrics *federation.Metrics     // serves /metrics when set
	Health  *federation.HealthReporter
	Logger  *zap.Logger
}

// App is the shell host. Remote modules are resolved on first render, never
// at construction.
type App struct {
	cfg     *config.Config
	loader  federation.RemoteModuleLoader
	status  federation.StatusSource
	metrics *federation.Metrics
	health  *federation.HealthReporter
	logger  *zap.Logger

	page     *template.Template
	live     *liveHub
	required []federation.ModuleRef

	mu      sync.Mutex
	button  component.Component
	counter *store.Store
}

// Page is the data the page template renders.
type Page struct {
	Title           string
	Button          template.HTML
	ButtonRef       string
	ButtonFallback  string
	Count           int
	StoreRef        string
	CounterFallback string
}

// Degraded reports whether any remote region shows a fallback.
func (p *Page) Degraded() bool {
	return p.ButtonFallback != "" || p.CounterFallback != ""
}

// New creates the host application.
func New(opts Options) (*App, error) {
	if opts.Loader == nil {
		return nil, errors.New("host: loader is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	page, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		loader:   opts.Loader,
		status:   opts.Status,
		metrics:  opts.Metrics,
		health:   opts.Health,
		logger:   logger,
		page:     page,
		live:     newLiveHub(logger),
		required: []federation.ModuleRef{ButtonRef, StoreRef},
	}, nil
}

// Render resolves the remote modules and builds the page. Resolution waits
// at most the configured render timeout. In open fail mode unavailable
// modules become fallback regions and the error is nil; in closed mode any
// unavailable module fails the render.
func (a *App) Render(ctx context.Context) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.RenderTimeout.Std())
	defer cancel()

	page := &Page{
		Title:     Title,
		ButtonRef: ButtonRef.String(),
		StoreRef:  StoreRef.String(),
	}

	var errs []error

	html, err := a.renderButton(ctx)
	if err != nil {
		page.ButtonFallback = fallbackText(ButtonRef, err)
		errs = append(errs, err)
	} else {
		page.Button = html
	}

	counter, err := a.counterStore(ctx)
	if err != nil {
		page.CounterFallback = fallbackText(StoreRef, err)
		errs = append(errs, err)
	} else {
		page.Count, _ = counter.Use()
	}

	if len(errs) > 0 && a.cfg.Server.FailMode == config.FailClosed {
		return page, errors.Join(errs...)
	}
	return page, nil
}

func (a *App) renderButton(ctx context.Context) (template.HTML, error) {
	button, err := a.buttonComponent(ctx)
	if err != nil {
		return "", err
	}
	return button.Render(map[string]any{"label": ButtonLabel})
}

func (a *App) buttonComponent(ctx context.Context) (component.Component, error) {
	a.mu.Lock()
	if a.button != nil {
		defer a.mu.Unlock()
		return a.button, nil
	}
	a.mu.Unlock()

	h, err := a.loader.Resolve(ctx, ButtonRef.Container, ButtonRef.Exposed)
	if err != nil {
		return nil, err
	}
	button, err := component.FromHandle(h)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.button == nil {
		a.button = button
	}
	return a.button, nil
}

// counterStore returns the one store instance backing the counter for the
// lifetime of the app.
func (a *App) counterStore(ctx context.Context) (*store.Store, error) {
	a.mu.Lock()
	if a.counter != nil {
		defer a.mu.Unlock()
		return a.counter, nil
	}
	a.mu.Unlock()

	h, err := a.loader.Resolve(ctx, StoreRef.Container, StoreRef.Exposed)
	if err != nil {
		return nil, err
	}
	counter, err := store.FromDefinition(h.Definition)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Ref, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counter == nil {
		a.counter = counter
		counter.Subscribe(a.live.broadcast)
	}
	return a.counter, nil
}

// Increment adds one to the counter through the remote store's setter.
func (a *App) Increment(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.RenderTimeout.Std())
	defer cancel()

	counter, err := a.counterStore(ctx)
	if err != nil {
		return 0, err
	}
	_, setCount := counter.Use()
	return setCount(store.Apply(func(count int) int { return count + 1 })), nil
}

// Count returns the current counter value.
func (a *App) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.RenderTimeout.Std())
	defer cancel()

	counter, err := a.counterStore(ctx)
	if err != nil {
		return 0, err
	}
	return counter.Get(), nil
}

func fallbackText(ref federation.ModuleRef, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ref.String() + " is loading"
	}
	return ref.String() + " is unavailable"
}
