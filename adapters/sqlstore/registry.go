package sqlstore

import (
	"context"
	"strconv"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"

	"github.com/jmoiron/sqlx"
)

// CreateRegisteredModel adds a model name to the registry
func (s *Store) CreateRegisteredModel(ctx context.Context, name, description string) (*tracking.RegisteredModel, error) {
	if err := tracking.ValidateModelName(name); err != nil {
		return nil, err
	}

	now := core.NowMillis()
	model := &tracking.RegisteredModel{
		Name:            name,
		Description:     description,
		CreationTime:    now,
		LastUpdatedTime: now,
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(
			"SELECT COUNT(*) FROM registered_models WHERE name = ?"), name); err != nil {
			return dbErr(err, "failed to check registered model")
		}
		if count > 0 {
			return errors.AlreadyExists("registered model '" + name + "'")
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO registered_models (name, description, creation_time, last_updated_time)
			VALUES (?, ?, ?, ?)`), name, description, now, now); err != nil {
			return dbErr(err, "failed to insert registered model")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// GetRegisteredModel loads a registered model and its newest version
func (s *Store) GetRegisteredModel(ctx context.Context, name string) (*tracking.RegisteredModel, error) {
	var model tracking.RegisteredModel
	err := s.db.GetContext(ctx, &model, s.db.Rebind(
		"SELECT name, description, creation_time, last_updated_time FROM registered_models WHERE name = ?"), name)
	if isNoRows(err) {
		return nil, errors.NotFound("registered model '" + name + "'")
	}
	if err != nil {
		return nil, dbErr(err, "failed to load registered model")
	}

	var versions []versionRow
	if err := s.db.SelectContext(ctx, &versions, s.db.Rebind(`
		SELECT name, version, source, run_id, status, creation_time, last_updated_time
		FROM model_versions WHERE name = ? ORDER BY version DESC LIMIT 1`), name); err != nil {
		return nil, dbErr(err, "failed to load model versions")
	}
	for _, v := range versions {
		model.LatestVersions = append(model.LatestVersions, v.toModelVersion())
	}
	return &model, nil
}

type versionRow struct {
	Name            string                      `db:"name"`
	Version         int64                       `db:"version"`
	Source          string                      `db:"source"`
	RunID           string                      `db:"run_id"`
	Status          tracking.ModelVersionStatus `db:"status"`
	CreationTime    core.Millis                 `db:"creation_time"`
	LastUpdatedTime core.Millis                 `db:"last_updated_time"`
}

func (r versionRow) toModelVersion() tracking.ModelVersion {
	return tracking.ModelVersion{
		Name:            r.Name,
		Version:         strconv.FormatInt(r.Version, 10),
		Source:          r.Source,
		RunID:           r.RunID,
		Status:          r.Status,
		CreationTime:    r.CreationTime,
		LastUpdatedTime: r.LastUpdatedTime,
	}
}

// CreateModelVersion registers source as the next version of name
func (s *Store) CreateModelVersion(ctx context.Context, name, source, runID string) (*tracking.ModelVersion, error) {
	if source == "" {
		return nil, errors.InvalidParameter("model version source must not be empty")
	}

	var row versionRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(
			"SELECT COUNT(*) FROM registered_models WHERE name = ?"), name); err != nil {
			return dbErr(err, "failed to check registered model")
		}
		if count == 0 {
			return errors.NotFound("registered model '" + name + "'")
		}

		var maxVersion int64
		if err := tx.GetContext(ctx, &maxVersion, tx.Rebind(
			"SELECT COALESCE(MAX(version), 0) FROM model_versions WHERE name = ?"), name); err != nil {
			return dbErr(err, "failed to allocate model version")
		}

		now := core.NowMillis()
		row = versionRow{
			Name:            name,
			Version:         maxVersion + 1,
			Source:          source,
			RunID:           runID,
			Status:          tracking.ModelVersionReady,
			CreationTime:    now,
			LastUpdatedTime: now,
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO model_versions (name, version, source, run_id, status, creation_time, last_updated_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			row.Name, row.Version, row.Source, row.RunID, row.Status, row.CreationTime, row.LastUpdatedTime); err != nil {
			return dbErr(err, "failed to insert model version")
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE registered_models SET last_updated_time = ? WHERE name = ?"), now, name); err != nil {
			return dbErr(err, "failed to touch registered model")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mv := row.toModelVersion()
	s.logger.Info("registered model %s version %s", name, mv.Version)
	return &mv, nil
}
