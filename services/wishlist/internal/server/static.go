package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// handleFrontend serves the built single-page app. Unknown paths fall back to
// index.html so client-side routes survive a reload.
func (s *Server) handleFrontend(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.staticDir, filepath.FromSlash(name))
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		http.ServeFile(w, r, full)
		return
	}
	index := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	http.ServeFile(w, r, index)
}
