package sqlstore

import (
	"context"
	"math"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"
	"mltrack/ports"

	"github.com/jmoiron/sqlx"
)

const runColumns = `run_uuid, name, experiment_id, user_id, status, start_time, end_time, artifact_uri, lifecycle_stage`

// metricRow mirrors the metrics tables; NaN is stored as a flag because
// SQLite turns NaN into NULL
type metricRow struct {
	Key       string      `db:"key"`
	Value     float64     `db:"value"`
	Timestamp core.Millis `db:"timestamp"`
	Step      int64       `db:"step"`
	IsNaN     int         `db:"is_nan"`
}

func (r metricRow) toMetric() tracking.Metric {
	v := r.Value
	if r.IsNaN != 0 {
		v = math.NaN()
	}
	return tracking.Metric{Key: r.Key, Value: v, Timestamp: r.Timestamp, Step: r.Step}
}

func storedValue(v float64) (float64, int) {
	if math.IsNaN(v) {
		return 0, 1
	}
	return v, 0
}

// querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// CreateRun inserts a RUNNING run under an active experiment
func (s *Store) CreateRun(ctx context.Context, req ports.CreateRunRequest) (*tracking.Run, error) {
	experimentID := req.ExperimentID
	if experimentID == "" {
		experimentID = tracking.DefaultExperimentID
	}
	exp, err := s.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.LifecycleStage != tracking.LifecycleActive {
		return nil, errors.InvalidState("experiment " + experimentID + " is not active")
	}
	for _, tag := range req.Tags {
		if err := tracking.ValidateTag(tag); err != nil {
			return nil, err
		}
	}

	runName := req.RunName
	for _, tag := range req.Tags {
		if tag.Key == tracking.TagRunName && runName == "" {
			runName = tag.Value
		}
	}
	if runName == "" {
		runName = tracking.GenerateRunName()
	}
	startTime := req.StartTime
	if startTime == 0 {
		startTime = core.NowMillis()
	}

	runID := core.NewRunID().String()
	info := tracking.RunInfo{
		RunID:          runID,
		RunName:        runName,
		ExperimentID:   experimentID,
		UserID:         req.UserID,
		Status:         tracking.RunStatusRunning,
		StartTime:      startTime,
		ArtifactURI:    exp.ArtifactLocation + "/" + runID + "/artifacts",
		LifecycleStage: tracking.LifecycleActive,
	}

	tags := upsertTag(req.Tags, tracking.Tag{Key: tracking.TagRunName, Value: runName})

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			info.RunID, info.RunName, info.ExperimentID, info.UserID, info.Status,
			info.StartTime, nil, info.ArtifactURI, info.LifecycleStage); err != nil {
			return dbErr(err, "failed to insert run")
		}
		for _, tag := range tags {
			if err := setTagTx(ctx, tx, runID, tag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created run %s (%s) in experiment %s", runID, runName, experimentID)
	return &tracking.Run{Info: info, Data: tracking.RunData{Tags: tags}}, nil
}

func upsertTag(tags []tracking.Tag, tag tracking.Tag) []tracking.Tag {
	out := make([]tracking.Tag, 0, len(tags)+1)
	replaced := false
	for _, t := range tags {
		if t.Key == tag.Key {
			t = tag
			replaced = true
		}
		out = append(out, t)
	}
	if !replaced {
		out = append(out, tag)
	}
	return out
}

// GetRun loads run info plus params, tags and latest metrics
func (s *Store) GetRun(ctx context.Context, runID string) (*tracking.Run, error) {
	info, err := getRunInfo(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	data, err := s.loadRunData(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &tracking.Run{Info: *info, Data: *data}, nil
}

func getRunInfo(ctx context.Context, q querier, runID string) (*tracking.RunInfo, error) {
	var info tracking.RunInfo
	err := q.GetContext(ctx, &info, q.Rebind("SELECT "+runColumns+" FROM runs WHERE run_uuid = ?"), runID)
	if isNoRows(err) {
		return nil, errors.NotFound("run with id '" + runID + "'")
	}
	if err != nil {
		return nil, dbErr(err, "failed to load run %s", runID)
	}
	return &info, nil
}

func (s *Store) loadRunData(ctx context.Context, runID string) (*tracking.RunData, error) {
	var data tracking.RunData
	if err := s.db.SelectContext(ctx, &data.Params, s.db.Rebind(
		"SELECT key, value FROM params WHERE run_uuid = ? ORDER BY key"), runID); err != nil {
		return nil, dbErr(err, "failed to load params")
	}
	if err := s.db.SelectContext(ctx, &data.Tags, s.db.Rebind(
		"SELECT key, value FROM tags WHERE run_uuid = ? ORDER BY key"), runID); err != nil {
		return nil, dbErr(err, "failed to load tags")
	}

	var rows []metricRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT key, value, timestamp, step, is_nan FROM latest_metrics WHERE run_uuid = ? ORDER BY key"), runID); err != nil {
		return nil, dbErr(err, "failed to load metrics")
	}
	for _, r := range rows {
		data.Metrics = append(data.Metrics, r.toMetric())
	}
	return &data, nil
}

// UpdateRun changes status, end time and optionally the run name
func (s *Store) UpdateRun(ctx context.Context, req ports.UpdateRunRequest) (*tracking.RunInfo, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, errors.InvalidParameter("invalid run status '" + string(req.Status) + "'")
	}

	var info *tracking.RunInfo
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := activeRun(ctx, tx, req.RunID)
		if err != nil {
			return err
		}
		if req.Status != "" {
			current.Status = req.Status
		}
		if req.EndTime != nil {
			end := *req.EndTime
			current.EndTime = &end
		}
		if req.RunName != "" {
			current.RunName = req.RunName
			if err := setTagTx(ctx, tx, req.RunID, tracking.Tag{Key: tracking.TagRunName, Value: req.RunName}); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE runs SET status = ?, end_time = ?, name = ? WHERE run_uuid = ?"),
			current.Status, current.EndTime, current.RunName, req.RunID); err != nil {
			return dbErr(err, "failed to update run")
		}
		info = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// SearchRuns returns runs of the given experiments, newest first
func (s *Store) SearchRuns(ctx context.Context, req ports.SearchRunsRequest) ([]tracking.Run, error) {
	ids := req.ExperimentIDs
	if len(ids) == 0 {
		ids = []string{tracking.DefaultExperimentID}
	}
	limit := req.MaxResults
	if limit <= 0 || limit > 50000 {
		limit = 1000
	}

	query, args, err := sqlx.In(
		"SELECT "+runColumns+" FROM runs WHERE experiment_id IN (?) AND lifecycle_stage = ? ORDER BY start_time DESC, run_uuid LIMIT ?",
		ids, tracking.LifecycleActive, limit)
	if err != nil {
		return nil, dbErr(err, "failed to build run search")
	}

	var infos []tracking.RunInfo
	if err := s.db.SelectContext(ctx, &infos, s.db.Rebind(query), args...); err != nil {
		return nil, dbErr(err, "failed to search runs")
	}

	runs := make([]tracking.Run, 0, len(infos))
	for _, info := range infos {
		data, err := s.loadRunData(ctx, info.RunID)
		if err != nil {
			return nil, err
		}
		runs = append(runs, tracking.Run{Info: info, Data: *data})
	}
	return runs, nil
}

func activeRun(ctx context.Context, q querier, runID string) (*tracking.RunInfo, error) {
	info, err := getRunInfo(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	if info.LifecycleStage != tracking.LifecycleActive {
		return nil, errors.InvalidState("run " + runID + " is deleted")
	}
	return info, nil
}

// LogParam records an immutable param. Re-logging an identical value is a no-op.
func (s *Store) LogParam(ctx context.Context, runID string, param tracking.Param) error {
	if err := tracking.ValidateParam(param); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := activeRun(ctx, tx, runID); err != nil {
			return err
		}
		return logParamTx(ctx, tx, runID, param)
	})
}

func logParamTx(ctx context.Context, tx *sqlx.Tx, runID string, param tracking.Param) error {
	var existing string
	err := tx.GetContext(ctx, &existing, tx.Rebind(
		"SELECT value FROM params WHERE run_uuid = ? AND key = ?"), runID, param.Key)
	switch {
	case err == nil:
		if existing != param.Value {
			return tracking.ParamConflict(runID, param.Key, existing, param.Value)
		}
		return nil
	case !isNoRows(err):
		return dbErr(err, "failed to check param %s", param.Key)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"INSERT INTO params (run_uuid, key, value) VALUES (?, ?, ?)"),
		runID, param.Key, param.Value); err != nil {
		return dbErr(err, "failed to insert param %s", param.Key)
	}
	return nil
}

// LogMetric appends a metric point and refreshes the latest value
func (s *Store) LogMetric(ctx context.Context, runID string, metric tracking.Metric) error {
	if err := tracking.ValidateMetric(metric); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := activeRun(ctx, tx, runID); err != nil {
			return err
		}
		return logMetricTx(ctx, tx, runID, metric)
	})
}

func logMetricTx(ctx context.Context, tx *sqlx.Tx, runID string, metric tracking.Metric) error {
	if metric.Timestamp == 0 {
		metric.Timestamp = core.NowMillis()
	}
	value, isNaN := storedValue(metric.Value)

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"INSERT INTO metrics (run_uuid, key, value, timestamp, step, is_nan) VALUES (?, ?, ?, ?, ?, ?)"),
		runID, metric.Key, value, metric.Timestamp, metric.Step, isNaN); err != nil {
		return dbErr(err, "failed to insert metric %s", metric.Key)
	}

	// The latest value is the one with the highest step, then timestamp.
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO latest_metrics (run_uuid, key, value, timestamp, step, is_nan)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_uuid, key) DO UPDATE SET
			value = excluded.value,
			timestamp = excluded.timestamp,
			step = excluded.step,
			is_nan = excluded.is_nan
		WHERE excluded.step > latest_metrics.step
			OR (excluded.step = latest_metrics.step AND excluded.timestamp >= latest_metrics.timestamp)`),
		runID, metric.Key, value, metric.Timestamp, metric.Step, isNaN); err != nil {
		return dbErr(err, "failed to update latest metric %s", metric.Key)
	}
	return nil
}

// SetTag upserts a run tag; setting mlflow.runName also renames the run
func (s *Store) SetTag(ctx context.Context, runID string, tag tracking.Tag) error {
	if err := tracking.ValidateTag(tag); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := activeRun(ctx, tx, runID); err != nil {
			return err
		}
		return setTagTx(ctx, tx, runID, tag)
	})
}

func setTagTx(ctx context.Context, tx *sqlx.Tx, runID string, tag tracking.Tag) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO tags (run_uuid, key, value) VALUES (?, ?, ?)
		ON CONFLICT (run_uuid, key) DO UPDATE SET value = excluded.value`),
		runID, tag.Key, tag.Value); err != nil {
		return dbErr(err, "failed to set tag %s", tag.Key)
	}
	if tag.Key == tracking.TagRunName {
		if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE runs SET name = ? WHERE run_uuid = ?"), tag.Value, runID); err != nil {
			return dbErr(err, "failed to rename run")
		}
	}
	return nil
}

// LogBatch writes params, metrics and tags atomically
func (s *Store) LogBatch(ctx context.Context, runID string, metrics []tracking.Metric, params []tracking.Param, tags []tracking.Tag) error {
	if err := tracking.ValidateBatch(metrics, params, tags); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := activeRun(ctx, tx, runID); err != nil {
			return err
		}
		for _, p := range params {
			if err := logParamTx(ctx, tx, runID, p); err != nil {
				return err
			}
		}
		for _, m := range metrics {
			if err := logMetricTx(ctx, tx, runID, m); err != nil {
				return err
			}
		}
		for _, t := range tags {
			if err := setTagTx(ctx, tx, runID, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMetricHistory returns every logged point of a metric ordered by step and time
func (s *Store) GetMetricHistory(ctx context.Context, runID, key string) ([]tracking.Metric, error) {
	if _, err := getRunInfo(ctx, s.db, runID); err != nil {
		return nil, err
	}

	var rows []metricRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT key, value, timestamp, step, is_nan FROM metrics WHERE run_uuid = ? AND key = ? ORDER BY step, timestamp"),
		runID, key); err != nil {
		return nil, dbErr(err, "failed to load metric history")
	}

	out := make([]tracking.Metric, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMetric())
	}
	return out, nil
}
