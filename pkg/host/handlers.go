package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"mfehost/pkg/federation"

	"go.uber.org/zap"
)

// Handler returns the HTTP routes of the host.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handlePage)
	mux.HandleFunc("POST /count/increment", a.handleIncrement)
	mux.HandleFunc("GET /count", a.handleCount)
	mux.HandleFunc("GET /ws", a.handleLive)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFiles())))

	if a.status != nil {
		federation.NewHealthEndpoint(a.status, a.metrics, a.logger).RegisterHandlers(mux)
	} else if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	return mux
}

type errorPage struct {
	Title  string
	Errors []string
}

func (a *App) handlePage(w http.ResponseWriter, r *http.Request) {
	page, err := a.Render(r.Context())
	if err != nil {
		a.logger.Warn("Rendering failed closed", zap.Error(err))
		a.writeErrorPage(w, err)
		return
	}

	var buf bytes.Buffer
	if err := a.page.ExecuteTemplate(&buf, "page.html", page); err != nil {
		a.logger.Error("Failed to execute page template", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if page.Degraded() {
		a.logger.Debug("Rendered degraded page",
			zap.String("button", page.ButtonFallback),
			zap.String("counter", page.CounterFallback))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (a *App) writeErrorPage(w http.ResponseWriter, err error) {
	data := errorPage{Title: Title}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			data.Errors = append(data.Errors, e.Error())
		}
	} else {
		data.Errors = []string{err.Error()}
	}

	var buf bytes.Buffer
	if err := a.page.ExecuteTemplate(&buf, "error.html", data); err != nil {
		http.Error(w, "remote modules unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write(buf.Bytes())
}

func (a *App) handleIncrement(w http.ResponseWriter, r *http.Request) {
	count, err := a.Increment(r.Context())
	if err != nil {
		a.logger.Warn("Counter unavailable", zap.Error(err))
		http.Error(w, fallbackText(StoreRef, err), http.StatusServiceUnavailable)
		return
	}
	a.logger.Debug("Counter incremented", zap.Int("count", count))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type countResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

func (a *App) handleCount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	count, err := a.Count(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(countResponse{Error: fallbackText(StoreRef, err)})
		return
	}
	json.NewEncoder(w).Encode(countResponse{Count: count})
}
