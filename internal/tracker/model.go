package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"

	"gopkg.in/yaml.v3"
)

// MLmodelFile is the descriptor written next to every logged model
const MLmodelFile = "MLmodel"

// Model is anything that can be logged as a run model
type Model interface {
	// Flavor names the format readers need to load the payload
	Flavor() string
	// SaveFile writes the payload to path
	SaveFile(path string) error
	// FileName is the payload's name inside the model directory
	FileName() string
}

// MLmodel is the YAML descriptor of a logged model
type MLmodel struct {
	ArtifactPath   string                       `yaml:"artifact_path" json:"artifact_path"`
	Flavors        map[string]map[string]string `yaml:"flavors" json:"flavors"`
	ModelUUID      string                       `yaml:"model_uuid" json:"model_uuid"`
	RunID          string                       `yaml:"run_id" json:"run_id"`
	UTCTimeCreated string                       `yaml:"utc_time_created" json:"utc_time_created"`
}

// ModelInfo describes a logged model
type ModelInfo struct {
	ArtifactPath string
	ModelURI     string
	Descriptor   MLmodel
	// Version is set when the model was registered
	Version *tracking.ModelVersion
}

// LogModel saves m with an MLmodel descriptor under artifactPath. When
// registeredName is set the model is also registered as a new version.
func (r *ActiveRun) LogModel(ctx context.Context, m Model, artifactPath, registeredName string) (*ModelInfo, error) {
	if err := r.checkActive(); err != nil {
		return nil, err
	}
	if artifactPath == "" {
		return nil, errors.InvalidParameter("model artifact path must not be empty")
	}

	dir, err := os.MkdirTemp("", "model-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create model staging directory")
	}
	defer os.RemoveAll(dir)

	payload := filepath.Join(dir, m.FileName())
	if err := m.SaveFile(payload); err != nil {
		return nil, errors.Wrap(err, "failed to save model")
	}
	checksum, err := core.HashFile(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash model payload")
	}

	descriptor := MLmodel{
		ArtifactPath: artifactPath,
		Flavors: map[string]map[string]string{
			m.Flavor(): {
				"data":       m.FileName(),
				"go_version": runtime.Version(),
				"sha256":     checksum.String(),
			},
		},
		ModelUUID:      core.NewID().String(),
		RunID:          r.ID(),
		UTCTimeCreated: time.Now().UTC().Format("2006-01-02 15:04:05.000000"),
	}
	raw, err := yaml.Marshal(descriptor)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode MLmodel")
	}
	if err := os.WriteFile(filepath.Join(dir, MLmodelFile), raw, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write MLmodel")
	}

	if err := r.artifacts.LogArtifacts(ctx, dir, artifactPath); err != nil {
		return nil, errors.Wrapf(err, "failed to log model to %s", artifactPath)
	}
	if err := r.appendModelHistory(ctx, descriptor); err != nil {
		return nil, err
	}
	r.tracker.logger.Debug("logged %s model %s to %s", m.Flavor(), checksum.Short(), artifactPath)

	info := &ModelInfo{
		ArtifactPath: artifactPath,
		ModelURI:     "runs:/" + r.ID() + "/" + artifactPath,
		Descriptor:   descriptor,
	}
	if registeredName != "" {
		version, err := r.register(ctx, registeredName, artifactPath)
		if err != nil {
			return nil, err
		}
		info.Version = version
	}
	return info, nil
}

func (r *ActiveRun) appendModelHistory(ctx context.Context, descriptor MLmodel) error {
	run, err := r.tracker.store.GetRun(ctx, r.ID())
	if err != nil {
		return errors.Wrap(err, "failed to read model history")
	}

	var history []MLmodel
	if existing, ok := run.Data.TagMap()[tracking.TagLogModelHistory]; ok {
		if err := json.Unmarshal([]byte(existing), &history); err != nil {
			r.tracker.logger.Warn("ignoring unreadable %s tag on run %s: %v", tracking.TagLogModelHistory, r.ID(), err)
			history = nil
		}
	}
	history = append(history, descriptor)

	raw, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(err, "failed to encode model history")
	}
	return r.tracker.store.SetTag(ctx, r.ID(), tracking.Tag{Key: tracking.TagLogModelHistory, Value: string(raw)})
}

func (r *ActiveRun) register(ctx context.Context, name, artifactPath string) (*tracking.ModelVersion, error) {
	registry := r.tracker.registry
	if registry == nil {
		return nil, errors.InvalidState("tracking backend has no model registry")
	}

	_, err := registry.GetRegisteredModel(ctx, name)
	if errors.HasCode(err, errors.CodeNotFound) {
		_, err = registry.CreateRegisteredModel(ctx, name, "")
		if errors.HasCode(err, errors.CodeAlreadyExists) {
			err = nil
		}
		if err == nil {
			r.tracker.logger.Info("Successfully registered model '%s'.", name)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to register model %q", name)
	}

	source := r.ArtifactURI() + "/" + path.Clean(artifactPath)
	version, err := registry.CreateModelVersion(ctx, name, source, r.ID())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create version of model %q", name)
	}
	r.tracker.logger.Info("Created version '%s' of model '%s'.", version.Version, name)
	return version, nil
}
