package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "")
	t.Setenv("MLFLOW_HTTP_REQUEST_TIMEOUT", "")
	t.Setenv("MLFLOW_TRACKING_TOKEN", "")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "")
	t.Setenv("MLFLOW_HTTP_REQUEST_MAX_RETRIES", "")
	t.Setenv("PORT", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultTrackingURI, cfg.Tracking.URI)
	assert.Equal(t, 5, cfg.Tracking.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.Tracking.Timeout)
	assert.Equal(t, "5000", cfg.Server.Port)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://localhost:5000")
	t.Setenv("MLFLOW_HTTP_REQUEST_TIMEOUT", "30")
	t.Setenv("MLFLOW_HTTP_REQUEST_MAX_RETRIES", "2")
	t.Setenv("MLFLOW_TRACKING_TOKEN", "")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Tracking.URI)
	assert.Equal(t, 30*time.Second, cfg.Tracking.Timeout)
	assert.Equal(t, 2, cfg.Tracking.MaxRetries)
}

func TestPreferURIRespectsDotEnv(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "")
	require.NoError(t, os.Unsetenv("MLFLOW_TRACKING_URI"))
	t.Setenv("MLFLOW_TRACKING_TOKEN", "")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MLFLOW_TRACKING_URI=sqlite:///from-dotenv.db\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Tracking.PreferURI("sqlite:///from-yaml.db")
	assert.Equal(t, "sqlite:///from-dotenv.db", cfg.Tracking.URI)
}

func TestPreferURIWithoutEnv(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "")
	require.NoError(t, os.Unsetenv("MLFLOW_TRACKING_URI"))
	t.Setenv("MLFLOW_TRACKING_TOKEN", "")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTrackingURI, cfg.Tracking.URI)

	cfg.Tracking.PreferURI("sqlite:///from-yaml.db")
	assert.Equal(t, "sqlite:///from-yaml.db", cfg.Tracking.URI)

	cfg.Tracking.PreferURI("")
	assert.Equal(t, "sqlite:///from-yaml.db", cfg.Tracking.URI)
}

func TestFromEnvRejectsTokenAndBasicAuth(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_TOKEN", "secret")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "alice")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestReadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("IMAGE_SIZE: [224, 224, 3]\nBATCH_SIZE: 16\n"), 0o644))

	params, err := ReadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 16, params["BATCH_SIZE"])

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = ReadYAML(empty)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
