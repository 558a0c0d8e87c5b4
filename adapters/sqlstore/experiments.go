package sqlstore

import (
	"context"
	"strconv"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"

	"github.com/jmoiron/sqlx"
)

const experimentColumns = `experiment_id, name, artifact_location, lifecycle_stage, creation_time, last_update_time`

// CreateExperiment inserts a new experiment and returns its ID. IDs are
// sequential integers rendered as strings; "0" is the default experiment.
func (s *Store) CreateExperiment(ctx context.Context, name, artifactLocation string, tags []tracking.Tag) (string, error) {
	if err := tracking.ValidateExperimentName(name); err != nil {
		return "", err
	}
	for _, tag := range tags {
		if err := tracking.ValidateTag(tag); err != nil {
			return "", err
		}
	}

	var experimentID string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, tx.Rebind(
			"SELECT COUNT(*) FROM experiments WHERE name = ?"), name); err != nil {
			return dbErr(err, "failed to check experiment name")
		}
		if existing > 0 {
			return errors.AlreadyExists("experiment '" + name + "'")
		}

		var maxID int64
		if err := tx.GetContext(ctx, &maxID,
			"SELECT COALESCE(MAX(CAST(experiment_id AS BIGINT)), 0) FROM experiments"); err != nil {
			return dbErr(err, "failed to allocate experiment ID")
		}
		experimentID = strconv.FormatInt(maxID+1, 10)

		location := artifactLocation
		if location == "" {
			location = s.experimentArtifactLocation(experimentID)
		}

		now := core.NowMillis()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO experiments (`+experimentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)`),
			experimentID, name, location, tracking.LifecycleActive, now, now); err != nil {
			return dbErr(err, "failed to insert experiment")
		}

		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				"INSERT INTO experiment_tags (experiment_id, key, value) VALUES (?, ?, ?)"),
				experimentID, tag.Key, tag.Value); err != nil {
				return dbErr(err, "failed to insert experiment tag")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("created experiment %s (%s)", experimentID, name)
	return experimentID, nil
}

// GetExperiment loads an experiment with its tags
func (s *Store) GetExperiment(ctx context.Context, experimentID string) (*tracking.Experiment, error) {
	var exp tracking.Experiment
	err := s.db.GetContext(ctx, &exp, s.db.Rebind(
		"SELECT "+experimentColumns+" FROM experiments WHERE experiment_id = ?"), experimentID)
	if isNoRows(err) {
		return nil, errors.NotFound("experiment with id '" + experimentID + "'")
	}
	if err != nil {
		return nil, dbErr(err, "failed to load experiment %s", experimentID)
	}
	return s.withExperimentTags(ctx, &exp)
}

// GetExperimentByName loads an active experiment by its unique name
func (s *Store) GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error) {
	var exp tracking.Experiment
	err := s.db.GetContext(ctx, &exp, s.db.Rebind(
		"SELECT "+experimentColumns+" FROM experiments WHERE name = ?"), name)
	if isNoRows(err) {
		return nil, errors.NotFound("experiment '" + name + "'")
	}
	if err != nil {
		return nil, dbErr(err, "failed to load experiment %q", name)
	}
	return s.withExperimentTags(ctx, &exp)
}

// ListExperiments returns all active experiments ordered by ID
func (s *Store) ListExperiments(ctx context.Context) ([]tracking.Experiment, error) {
	var exps []tracking.Experiment
	err := s.db.SelectContext(ctx, &exps, s.db.Rebind(
		"SELECT "+experimentColumns+" FROM experiments WHERE lifecycle_stage = ? ORDER BY CAST(experiment_id AS BIGINT)"),
		tracking.LifecycleActive)
	if err != nil {
		return nil, dbErr(err, "failed to list experiments")
	}
	for i := range exps {
		if _, err := s.withExperimentTags(ctx, &exps[i]); err != nil {
			return nil, err
		}
	}
	return exps, nil
}

func (s *Store) withExperimentTags(ctx context.Context, exp *tracking.Experiment) (*tracking.Experiment, error) {
	var tags []tracking.Tag
	err := s.db.SelectContext(ctx, &tags, s.db.Rebind(
		"SELECT key, value FROM experiment_tags WHERE experiment_id = ? ORDER BY key"), exp.ExperimentID)
	if err != nil {
		return nil, dbErr(err, "failed to load experiment tags")
	}
	exp.Tags = tags
	return exp, nil
}
