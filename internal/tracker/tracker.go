// Package tracker is the fluent experiment-tracking client: pick an
// experiment, start a run, log params, metrics, artifacts and models to it.
package tracker

import (
	"context"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"

	"mltrack/adapters/artifacts"
	"mltrack/adapters/mlflow"
	"mltrack/adapters/sqlstore"
	"mltrack/domain/tracking"
	"mltrack/internal"
	"mltrack/internal/config"
	"mltrack/internal/errors"
	"mltrack/ports"
)

// Tracker resolves a tracking URI into a backend and keeps the active
// experiment
type Tracker struct {
	uri      string
	store    ports.TrackingStore
	registry ports.ModelRegistry
	// baseURL and doer are set for http(s) backends so mlflow-artifacts
	// URIs resolve against the same server with the same credentials
	baseURL string
	doer    artifacts.Doer
	closer  io.Closer
	logger  *internal.Logger

	mu           sync.Mutex
	experimentID string
}

// New connects to the backend named by cfg.URI: http(s) tracking servers go
// through the REST client, sqlite:// and postgres:// URIs open the SQL store
// directly with artifacts under cfg.ArtifactRoot.
func New(ctx context.Context, cfg config.TrackingConfig) (*Tracker, error) {
	uri := strings.TrimSpace(cfg.URI)
	logger := internal.DefaultLogger.With("tracker")

	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		client, err := mlflow.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return &Tracker{
			uri:          uri,
			store:        client,
			registry:     client,
			baseURL:      client.BaseURL(),
			doer:         client,
			logger:       logger,
			experimentID: tracking.DefaultExperimentID,
		}, nil
	case strings.HasPrefix(uri, "sqlite://"), strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		root, err := artifacts.LocalRootURI(cfg.ArtifactRoot)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.Open(ctx, uri, root)
		if err != nil {
			return nil, err
		}
		return &Tracker{
			uri:          uri,
			store:        store,
			registry:     store,
			closer:       store,
			logger:       logger,
			experimentID: tracking.DefaultExperimentID,
		}, nil
	default:
		return nil, errors.ConfigInvalid("unsupported tracking URI: " + cfg.URI)
	}
}

// NewWithBackend builds a tracker over an existing store and registry
func NewWithBackend(uri string, store ports.TrackingStore, registry ports.ModelRegistry) *Tracker {
	return &Tracker{
		uri:          uri,
		store:        store,
		registry:     registry,
		logger:       internal.DefaultLogger.With("tracker"),
		experimentID: tracking.DefaultExperimentID,
	}
}

// TrackingURI returns the URI the tracker logs to
func (t *Tracker) TrackingURI() string {
	return t.uri
}

// Store exposes the metadata backend for read-only commands
func (t *Tracker) Store() ports.TrackingStore {
	return t.store
}

// Close releases the backend connection, if the tracker owns one
func (t *Tracker) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// SetExperiment makes the named experiment active, creating it if needed
func (t *Tracker) SetExperiment(ctx context.Context, name string) (*tracking.Experiment, error) {
	if err := tracking.ValidateExperimentName(name); err != nil {
		return nil, err
	}

	exp, err := t.store.GetExperimentByName(ctx, name)
	if errors.HasCode(err, errors.CodeNotFound) {
		id, createErr := t.store.CreateExperiment(ctx, name, "", nil)
		if errors.HasCode(createErr, errors.CodeAlreadyExists) {
			// Lost a race with another client.
			exp, err = t.store.GetExperimentByName(ctx, name)
		} else if createErr != nil {
			return nil, errors.Wrapf(createErr, "failed to create experiment %q", name)
		} else {
			t.logger.Info("created experiment %q (id %s)", name, id)
			exp, err = t.store.GetExperiment(ctx, id)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set experiment %q", name)
	}
	if exp.LifecycleStage == tracking.LifecycleDeleted {
		return nil, errors.InvalidState("experiment " + name + " is deleted")
	}

	t.mu.Lock()
	t.experimentID = exp.ExperimentID
	t.mu.Unlock()
	return exp, nil
}

// ExperimentID returns the active experiment
func (t *Tracker) ExperimentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.experimentID
}

// RunOption customises StartRun
type RunOption func(*runOptions)

type runOptions struct {
	name string
	tags map[string]string
}

// WithRunName names the run instead of generating a name
func WithRunName(name string) RunOption {
	return func(o *runOptions) { o.name = name }
}

// WithTags adds tags to the run at creation
func WithTags(tags map[string]string) RunOption {
	return func(o *runOptions) {
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.tags[k] = v
		}
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// StartRun creates a RUNNING run in the active experiment
func (t *Tracker) StartRun(ctx context.Context, opts ...RunOption) (*ActiveRun, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	userID := currentUser()
	tags := map[string]string{
		tracking.TagSourceName: filepath.Base(os.Args[0]),
		tracking.TagSourceType: "LOCAL",
	}
	if userID != "" {
		tags[tracking.TagUser] = userID
	}
	if o.name != "" {
		tags[tracking.TagRunName] = o.name
	}
	for k, v := range o.tags {
		tags[k] = v
	}

	var runTags []tracking.Tag
	for _, p := range tracking.SortedParams(tags) {
		runTags = append(runTags, tracking.Tag{Key: p.Key, Value: p.Value})
	}

	run, err := t.store.CreateRun(ctx, ports.CreateRunRequest{
		ExperimentID: t.ExperimentID(),
		RunName:      o.name,
		UserID:       userID,
		Tags:         runTags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start run")
	}

	repo, err := artifacts.NewRepository(run.Info.ArtifactURI, t.baseURL, t.doer)
	if err != nil {
		return nil, err
	}

	t.logger.Info("started run %s (%s) in experiment %s", run.Info.RunID, run.Info.RunName, run.Info.ExperimentID)
	return newActiveRun(t, run.Info, repo), nil
}

// Run starts a run, calls fn with it and ends it: FINISHED when fn returns
// nil, FAILED when it returns an error or panics. Panics are re-raised after
// the run is closed.
func (t *Tracker) Run(ctx context.Context, fn func(ctx context.Context, run *ActiveRun) error, opts ...RunOption) error {
	run, err := t.StartRun(ctx, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if endErr := run.End(context.WithoutCancel(ctx), tracking.RunStatusFailed); endErr != nil {
				t.logger.Error("failed to mark run %s as failed: %v", run.ID(), endErr)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, run); err != nil {
		if endErr := run.End(context.WithoutCancel(ctx), tracking.RunStatusFailed); endErr != nil {
			t.logger.Error("failed to mark run %s as failed: %v", run.ID(), endErr)
		}
		return err
	}
	return run.End(ctx, tracking.RunStatusFinished)
}
