package tracker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"
	"mltrack/ports"
)

// ActiveRun logs into one run until End is called
type ActiveRun struct {
	tracker   *Tracker
	artifacts ports.ArtifactRepository

	mu    sync.Mutex
	info  tracking.RunInfo
	ended bool
}

func newActiveRun(t *Tracker, info tracking.RunInfo, repo ports.ArtifactRepository) *ActiveRun {
	return &ActiveRun{tracker: t, info: info, artifacts: repo}
}

// ID returns the run ID
func (r *ActiveRun) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.RunID
}

// Info returns the run metadata as of the last update
func (r *ActiveRun) Info() tracking.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// ArtifactURI is the root the run's artifacts are stored under
func (r *ActiveRun) ArtifactURI() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.ArtifactURI
}

func (r *ActiveRun) checkActive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return errors.InvalidState("run " + r.info.RunID + " has already ended")
	}
	return nil
}

// LogParam records one param. Values are stringified with FormatParam.
func (r *ActiveRun) LogParam(ctx context.Context, key string, value interface{}) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	return r.tracker.store.LogParam(ctx, r.ID(), tracking.Param{Key: key, Value: FormatParam(value)})
}

// LogParams records several params in one batch
func (r *ActiveRun) LogParams(ctx context.Context, params map[string]interface{}) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	strs := make(map[string]string, len(params))
	for k, v := range params {
		strs[k] = FormatParam(v)
	}
	batch := tracking.SortedParams(strs)
	for start := 0; start < len(batch); start += tracking.MaxParamsPerBatch {
		end := min(start+tracking.MaxParamsPerBatch, len(batch))
		if err := r.tracker.store.LogBatch(ctx, r.ID(), nil, batch[start:end], nil); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric records one point; step defaults to 0
func (r *ActiveRun) LogMetric(ctx context.Context, key string, value float64, step ...int64) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	m := tracking.Metric{Key: key, Value: value, Timestamp: core.NowMillis()}
	if len(step) > 0 {
		m.Step = step[0]
	}
	return r.tracker.store.LogMetric(ctx, r.ID(), m)
}

// LogMetrics records several metrics at the same timestamp and step
func (r *ActiveRun) LogMetrics(ctx context.Context, metrics map[string]float64, step ...int64) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := core.NowMillis()
	var s int64
	if len(step) > 0 {
		s = step[0]
	}
	batch := make([]tracking.Metric, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, tracking.Metric{Key: k, Value: metrics[k], Timestamp: now, Step: s})
	}
	return r.tracker.store.LogBatch(ctx, r.ID(), batch, nil, nil)
}

// SetTag sets or overwrites a run tag
func (r *ActiveRun) SetTag(ctx context.Context, key, value string) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	return r.tracker.store.SetTag(ctx, r.ID(), tracking.Tag{Key: key, Value: value})
}

// LogArtifact uploads a local file under artifactPath ("" for the root)
func (r *ActiveRun) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to log artifact %s", localPath)
	}
	if info.IsDir() {
		return errors.InvalidInput(localPath + " is a directory; use LogArtifacts")
	}
	if err := r.artifacts.LogArtifact(ctx, localPath, artifactPath); err != nil {
		return errors.Wrapf(err, "failed to log artifact %s", localPath)
	}
	r.tracker.logger.Debug("logged artifact %s to run %s", filepath.Base(localPath), r.ID())
	return nil
}

// LogArtifacts uploads the contents of a local directory under artifactPath
func (r *ActiveRun) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	if err := r.artifacts.LogArtifacts(ctx, localDir, artifactPath); err != nil {
		return errors.Wrapf(err, "failed to log artifacts from %s", localDir)
	}
	return nil
}

// ListArtifacts lists the run's artifacts directly under path
func (r *ActiveRun) ListArtifacts(ctx context.Context, path string) ([]tracking.FileInfo, error) {
	return r.artifacts.ListArtifacts(ctx, path)
}

// DownloadArtifact copies one artifact to dst
func (r *ActiveRun) DownloadArtifact(ctx context.Context, path, dst string) error {
	rc, err := r.artifacts.OpenArtifact(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(dst))
	}
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to download %s", path)
	}
	return f.Close()
}

// End moves the run to a terminal status. Ending twice is a no-op.
func (r *ActiveRun) End(ctx context.Context, status tracking.RunStatus) error {
	if !status.IsTerminal() {
		return errors.InvalidParameter("run must end in FINISHED, FAILED or KILLED, got " + string(status))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}

	end := core.NowMillis()
	info, err := r.tracker.store.UpdateRun(ctx, ports.UpdateRunRequest{
		RunID:   r.info.RunID,
		Status:  status,
		EndTime: &end,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to end run %s", r.info.RunID)
	}
	r.info = *info
	r.ended = true
	r.tracker.logger.Info("run %s ended with status %s", r.info.RunID, status)
	return nil
}
