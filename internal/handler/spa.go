// Package handler contains the HTTP request handlers for the watchlist API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, JSON body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, JSON body)
//
// Handlers hold no business rules. They are the glue between HTTP and the
// services, and every error goes through writeError so the body shape never
// varies.
package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

// SPAHandler serves a prebuilt single-page app from a directory.
//
// CLIENT-SIDE ROUTING:
// The browser may ask for /watchlist or /movie/550 directly (bookmark,
// refresh). Those are routes of the SPA, not files, so any path that is not
// a real file gets index.html and the SPA router takes it from there.
// Paths under /api/ never fall back: an unknown API route is a JSON 404.
type SPAHandler struct {
	root   fs.FS
	files  http.Handler
	logger *slog.Logger
}

// NewSPAHandler serves dir. It fails fast if dir has no index.html.
func NewSPAHandler(dir string, logger *slog.Logger) (*SPAHandler, error) {
	root := os.DirFS(dir)
	if _, err := fs.Stat(root, "index.html"); err != nil {
		return nil, err
	}
	return &SPAHandler{
		root:   root,
		files:  http.FileServerFS(root),
		logger: logger,
	}, nil
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		NotFound(w, r)
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}

	info, err := fs.Stat(h.root, name)
	switch {
	case err == nil && !info.IsDir():
		h.files.ServeHTTP(w, r)
	case err == nil || errors.Is(err, fs.ErrNotExist):
		http.ServeFileFS(w, r, h.root, "index.html")
	default:
		h.logger.Error("serving static file", slog.String("path", name), slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
