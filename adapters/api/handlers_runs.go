package api

import (
	"net/http"

	"mltrack/domain/tracking"
	"mltrack/ports"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.backend.CreateRun(r.Context(), ports.CreateRunRequest{
		ExperimentID: req.ExperimentID,
		RunName:      req.RunName,
		UserID:       req.UserID,
		StartTime:    req.StartTime,
		Tags:         req.Tags,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: *run})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		// Older clients send run_uuid.
		runID = r.URL.Query().Get("run_uuid")
	}
	if err := requireField(runID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.backend.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: *run})
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	var req UpdateRunRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.RunID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.backend.UpdateRun(r.Context(), ports.UpdateRunRequest{
		RunID:   req.RunID,
		Status:  req.Status,
		EndTime: req.EndTime,
		RunName: req.RunName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateRunResponse{RunInfo: *info})
}

func (s *Server) handleLogParam(w http.ResponseWriter, r *http.Request) {
	var req LogParamRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.RunID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.backend.LogParam(r.Context(), req.RunID, tracking.Param{Key: req.Key, Value: req.Value}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, empty)
}

func (s *Server) handleLogMetric(w http.ResponseWriter, r *http.Request) {
	var req LogMetricRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.RunID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.backend.LogMetric(r.Context(), req.RunID, req.Metric); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, empty)
}

func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	var req SetTagRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.RunID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.backend.SetTag(r.Context(), req.RunID, tracking.Tag{Key: req.Key, Value: req.Value}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, empty)
}

func (s *Server) handleLogBatch(w http.ResponseWriter, r *http.Request) {
	var req LogBatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(req.RunID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.backend.LogBatch(r.Context(), req.RunID, req.Metrics, req.Params, req.Tags); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, empty)
}

func (s *Server) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	var req SearchRunsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	runs, err := s.backend.SearchRuns(r.Context(), ports.SearchRunsRequest{
		ExperimentIDs: req.ExperimentIDs,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []tracking.Run{}
	}
	writeJSON(w, http.StatusOK, SearchRunsResponse{Runs: runs})
}

func (s *Server) handleGetMetricHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runID, key := q.Get("run_id"), q.Get("metric_key")
	if err := requireField(runID, "run_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(key, "metric_key"); err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics, err := s.backend.GetMetricHistory(r.Context(), runID, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MetricHistoryResponse{Metrics: metrics})
}
