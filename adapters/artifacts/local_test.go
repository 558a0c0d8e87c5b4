package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "", true},
		{".", "", true},
		{"iris_model", "iris_model", true},
		{"a/./b/", "a/b", true},
		{`a\b`, "a/b", true},
		{"/etc/passwd", "", false},
		{"a/../../b", "", false},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLocalRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	root := t.TempDir()

	plot := filepath.Join(src, "confusion_matrix.png")
	require.NoError(t, os.WriteFile(plot, []byte("png"), 0o644))

	modelDir := filepath.Join(src, "model")
	require.NoError(t, os.MkdirAll(filepath.Join(modelDir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "MLmodel"), []byte("flavors: {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "data", "model.json"), []byte("{}"), 0o644))

	repo := NewLocalRepository(root)
	require.NoError(t, repo.LogArtifact(ctx, plot, ""))
	require.NoError(t, repo.LogArtifacts(ctx, modelDir, "iris_model"))

	top, err := repo.ListArtifacts(ctx, "")
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "confusion_matrix.png", top[0].Path)
	assert.Equal(t, int64(3), top[0].FileSize)
	assert.Equal(t, "iris_model", top[1].Path)
	assert.True(t, top[1].IsDir)

	nested, err := repo.ListArtifacts(ctx, "iris_model")
	require.NoError(t, err)
	require.Len(t, nested, 2)
	assert.Equal(t, "iris_model/MLmodel", nested[0].Path)
	assert.Equal(t, "iris_model/data", nested[1].Path)

	rc, err := repo.OpenArtifact(ctx, "iris_model/data/model.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))

	_, err = repo.OpenArtifact(ctx, "missing.txt")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	empty, err := repo.ListArtifacts(ctx, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewRepository(t *testing.T) {
	repo, err := NewRepository("file:///tmp/mlruns/0/abc/artifacts", "", nil)
	require.NoError(t, err)
	local, ok := repo.(*LocalRepository)
	require.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/tmp/mlruns/0/abc/artifacts"), local.store.Root())

	repo, err = NewRepository("mlflow-artifacts:/1/abc/artifacts", "http://localhost:5000", nil)
	require.NoError(t, err)
	remote, ok := repo.(*HTTPRepository)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:5000"+ProxyPrefix+"/1/abc/artifacts/model/MLmodel", remote.endpoint("model/MLmodel"))

	repo, err = NewRepository("mlflow-artifacts://tracker:8080/1/abc/artifacts", "https://other", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://tracker:8080", repo.(*HTTPRepository).baseURL)

	_, err = NewRepository("mlflow-artifacts:/1/abc", "", nil)
	assert.Error(t, err)

	_, err = NewRepository("s3://bucket/path", "", nil)
	assert.Error(t, err)
}
