package api

import (
	"io"
	"net/http"
	"net/url"

	"mltrack/domain/tracking"

	"github.com/go-chi/chi/v5"
)

func artifactPath(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "*"))
}

func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	p, err := artifactPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer r.Body.Close()

	if err := s.artifacts.Put(r.Context(), p, r.Body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("stored artifact %s", p)
	writeJSON(w, http.StatusOK, empty)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	p, err := artifactPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rc, err := s.artifacts.Open(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("artifact download %s interrupted: %v", p, err)
	}
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	files, err := s.artifacts.List(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []tracking.FileInfo{}
	}
	writeJSON(w, http.StatusOK, ListArtifactsResponse{Files: files})
}
