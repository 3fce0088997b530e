package httpserver

import (
	"net/http"
	"path/filepath"
)

// NeuterIndex serves dir/index.html for the root path and hands every
// other path to next, so directory listings are never rendered.
func NeuterIndex(dir string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" || path == "" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		if filepath.Ext(path) == "" {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
