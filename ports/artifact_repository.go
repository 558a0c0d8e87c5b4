package ports

import (
	"context"
	"io"

	"mltrack/domain/tracking"
)

// ArtifactRepository stores the files attached to a single run. Paths are
// relative to the run's artifact root and use forward slashes.
type ArtifactRepository interface {
	// LogArtifact copies one local file under artifactPath ("" = root)
	LogArtifact(ctx context.Context, localPath, artifactPath string) error
	// LogArtifacts copies the contents of a local directory under artifactPath
	LogArtifacts(ctx context.Context, localDir, artifactPath string) error
	ListArtifacts(ctx context.Context, path string) ([]tracking.FileInfo, error)
	// OpenArtifact streams one stored file
	OpenArtifact(ctx context.Context, path string) (io.ReadCloser, error)
}

// ArtifactStore is the server-side blob storage behind an artifact proxy,
// addressed by full artifact paths
type ArtifactStore interface {
	Put(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, path string) ([]tracking.FileInfo, error)
}
