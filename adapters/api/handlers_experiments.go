package api

import (
	"net/http"

	"mltrack/internal/errors"
)

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.Name, "name"); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.backend.CreateExperiment(r.Context(), req.Name, req.ArtifactLocation, req.Tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateExperimentResponse{ExperimentID: id})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("experiment_id")
	if err := requireField(id, "experiment_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	exp, err := s.backend.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExperimentResponse{Experiment: *exp})
}

func (s *Server) handleGetExperimentByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("experiment_name")
	if err := requireField(name, "experiment_name"); err != nil {
		s.writeError(w, r, err)
		return
	}

	exp, err := s.backend.GetExperimentByName(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExperimentResponse{Experiment: *exp})
}

func (s *Server) handleSearchExperiments(w http.ResponseWriter, r *http.Request) {
	var req SearchExperimentsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.MaxResults < 0 {
		s.writeError(w, r, errors.InvalidParameter("max_results must not be negative"))
		return
	}

	exps, err := s.backend.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.MaxResults > 0 && len(exps) > req.MaxResults {
		exps = exps[:req.MaxResults]
	}
	writeJSON(w, http.StatusOK, SearchExperimentsResponse{Experiments: exps})
}
