package artifacts

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"mltrack/domain/tracking"
	"mltrack/internal/errors"
)

// LocalRepository stores a run's artifacts on the local filesystem
type LocalRepository struct {
	store *FileStore
}

// NewLocalRepository creates a repository rooted at the run's artifact directory
func NewLocalRepository(dir string) *LocalRepository {
	return &LocalRepository{store: NewFileStore(dir)}
}

// LogArtifact copies localPath to <artifactPath>/<basename>
func (r *LocalRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	return r.store.Put(ctx, path.Join(artifactPath, filepath.Base(localPath)), f)
}

// LogArtifacts copies every file below localDir into artifactPath
func (r *LocalRepository) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return walkFiles(localDir, func(rel, full string) error {
		f, err := os.Open(full)
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", full)
		}
		defer f.Close()
		return r.store.Put(ctx, path.Join(artifactPath, rel), f)
	})
}

// ListArtifacts lists the direct children of path
func (r *LocalRepository) ListArtifacts(ctx context.Context, p string) ([]tracking.FileInfo, error) {
	return r.store.List(ctx, p)
}

// OpenArtifact streams one file
func (r *LocalRepository) OpenArtifact(ctx context.Context, p string) (io.ReadCloser, error) {
	return r.store.Open(ctx, p)
}
