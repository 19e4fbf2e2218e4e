package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mfehost/pkg/config"
	"mfehost/pkg/federation"
	"mfehost/pkg/remote"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"
)

func newTestApp(t *testing.T, entryURL string, mutate func(*config.Config)) (*App, *federation.Loader) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.Default()
	cfg.Remotes[config.DefaultRemoteName] = entryURL
	if mutate != nil {
		mutate(cfg)
	}

	fetcher := federation.NewFetcher(nil, logger)
	fetcher.ConfigureRetry(1, time.Millisecond, time.Millisecond)

	shared := make([]federation.SharedDecl, 0, len(cfg.Shared))
	for _, s := range cfg.Shared {
		shared = append(shared, federation.SharedDecl{
			Name:            s.Name,
			Version:         s.Version,
			RequiredVersion: s.RequiredVersion,
			Singleton:       s.Singleton,
		})
	}

	loader := federation.NewLoader(federation.LoaderOptions{
		Host:         cfg.Name,
		Remotes:      cfg.Remotes,
		Shared:       shared,
		Fetcher:      fetcher,
		FetchTimeout: 2 * time.Second,
		Logger:       logger,
	})

	app, err := New(Options{
		Config:  cfg,
		Loader:  loader,
		Status:  loader,
		Metrics: loader.Metrics(),
		Logger:  logger,
	})
	require.NoError(t, err)
	return app, loader
}

func serveRemote(t *testing.T, c *remote.Container) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)
	return srv.URL + remote.EntryPath
}

func getPage(t *testing.T, h http.Handler) (*html.Node, int) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	doc, err := html.Parse(rec.Body)
	require.NoError(t, err)
	return doc, rec.Code
}

func clickCounter(t *testing.T, h http.Handler) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/count/increment", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func find(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	if n.Type == html.ElementNode && match(n) {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, find(c, match)...)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attr(n, "id") == id }
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func counterText(t *testing.T, doc *html.Node) string {
	t.Helper()
	nodes := find(doc, byID("counter"))
	require.Len(t, nodes, 1)
	return text(nodes[0])
}

func TestCounterScenario(t *testing.T) {
	app, _ := newTestApp(t, serveRemote(t, remote.DevContainer(zaptest.NewLogger(t))), nil)
	h := app.Handler()

	doc, code := getPage(t, h)
	require.Equal(t, http.StatusOK, code)

	h1 := find(doc, byTag("h1"))
	require.Len(t, h1, 1)
	assert.Equal(t, "Shell Application", text(h1[0]))

	buttons := find(doc, byClass("remote-button"))
	require.Len(t, buttons, 1)
	assert.Equal(t, "Remote Button Counter", text(buttons[0]))

	assert.Equal(t, "count is 0", counterText(t, doc))

	clickCounter(t, h)
	doc, _ = getPage(t, h)
	assert.Equal(t, "count is 1", counterText(t, doc))

	clickCounter(t, h)
	clickCounter(t, h)
	doc, _ = getPage(t, h)
	assert.Equal(t, "count is 3", counterText(t, doc))
}

func TestNewPerformsNoFetch(t *testing.T) {
	c := remote.DevContainer(zaptest.NewLogger(t))
	entry := serveRemote(t, c)

	_, loader := newTestApp(t, entry, nil)
	assert.Equal(t, 0, c.Hits(remote.EntryPath))
	assert.Equal(t, federation.StateUnloaded, loader.Snapshot()[0].State)

	// An unreachable remote does not fail construction either.
	_, _ = newTestApp(t, "http://127.0.0.1:1/assets/remoteEntry.js", nil)
}

func TestFailOpenRendersFallbacks(t *testing.T) {
	c := remote.DevContainer(zaptest.NewLogger(t)).Remove("./store")
	app, _ := newTestApp(t, serveRemote(t, c), nil)

	page, err := app.Render(context.Background())
	require.NoError(t, err)
	assert.True(t, page.Degraded())
	assert.Empty(t, page.ButtonFallback)
	assert.Equal(t, "remoteApp/store is unavailable", page.CounterFallback)

	doc, code := getPage(t, app.Handler())
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, find(doc, byClass("remote-button")), 1)
	assert.Empty(t, find(doc, byID("counter")))

	fallbacks := find(doc, byClass("remote-fallback"))
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "remoteApp/store", attr(fallbacks[0], "data-remote"))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/count/increment", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFailOpenRemoteDown(t *testing.T) {
	app, _ := newTestApp(t, "http://127.0.0.1:1/assets/remoteEntry.js", nil)

	doc, code := getPage(t, app.Handler())
	require.Equal(t, http.StatusOK, code)

	h1 := find(doc, byTag("h1"))
	require.Len(t, h1, 1)
	assert.Equal(t, "Shell Application", text(h1[0]))
	assert.Len(t, find(doc, byClass("remote-fallback")), 2)
}

func TestFailClosed(t *testing.T) {
	app, _ := newTestApp(t, "http://127.0.0.1:1/assets/remoteEntry.js", func(c *config.Config) {
		c.Server.FailMode = config.FailClosed
	})

	_, err := app.Render(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, federation.ErrManifestFetch)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Remote modules are unavailable")
	assert.Contains(t, rec.Body.String(), "remoteApp/Button")
}

func TestSlowRemoteRendersLoading(t *testing.T) {
	release := make(chan struct{})
	c := remote.DevContainer(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == remote.EntryPath {
			<-release
		}
		c.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	app, _ := newTestApp(t, srv.URL+remote.EntryPath, func(c *config.Config) {
		c.Server.RenderTimeout = config.Duration(30 * time.Millisecond)
	})

	page, err := app.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remoteApp/Button is loading", page.ButtonFallback)
	assert.Equal(t, "remoteApp/store is loading", page.CounterFallback)

	close(release)
	require.Eventually(t, func() bool {
		page, err := app.Render(context.Background())
		return err == nil && !page.Degraded()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Hits(remote.EntryPath))
}

func TestCountEndpoint(t *testing.T) {
	app, _ := newTestApp(t, serveRemote(t, remote.DevContainer(zaptest.NewLogger(t))), nil)
	h := app.Handler()

	clickCounter(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/count", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp countResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestLiveUpdates(t *testing.T) {
	app, _ := newTestApp(t, serveRemote(t, remote.DevContainer(zaptest.NewLogger(t))), nil)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg countResponse
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, 0, msg.Count)

	_, err = app.Increment(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, 1, msg.Count)
}

func TestStaticAndHealthRoutes(t *testing.T) {
	app, _ := newTestApp(t, serveRemote(t, remote.DevContainer(zaptest.NewLogger(t))), nil)
	h := app.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ".remote-fallback")

	require.NoError(t, app.Preload(context.Background()))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mfehost_resolutions_total")
}

func TestPreloadReportsFailure(t *testing.T) {
	app, _ := newTestApp(t, "http://127.0.0.1:1/assets/remoteEntry.js", nil)
	err := app.Preload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, federation.ErrManifestFetch)
}

func TestNewRequiresLoader(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
