package api

import (
	"net/http"
)

func (s *Server) handleCreateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req CreateRegisteredModelRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	model, err := s.backend.CreateRegisteredModel(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisteredModelResponse{RegisteredModel: *model})
}

func (s *Server) handleGetRegisteredModel(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := requireField(name, "name"); err != nil {
		s.writeError(w, r, err)
		return
	}

	model, err := s.backend.GetRegisteredModel(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisteredModelResponse{RegisteredModel: *model})
}

func (s *Server) handleCreateModelVersion(w http.ResponseWriter, r *http.Request) {
	var req CreateModelVersionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.Name, "name"); err != nil {
		s.writeError(w, r, err)
		return
	}

	version, err := s.backend.CreateModelVersion(r.Context(), req.Name, req.Source, req.RunID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ModelVersionResponse{ModelVersion: *version})
}
