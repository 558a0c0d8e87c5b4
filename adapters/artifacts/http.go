package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mltrack/domain/tracking"
	"mltrack/internal/errors"
)

// ProxyPrefix is where a tracking server exposes its artifact proxy
const ProxyPrefix = "/api/2.0/mlflow-artifacts/artifacts"

// Doer sends HTTP requests; the tracking REST client implements it with
// authentication and retries
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRepository stores a run's artifacts through a tracking server's
// artifact proxy
type HTTPRepository struct {
	baseURL string // server root, e.g. http://localhost:5000
	root    string // run artifact path on the server, e.g. 1/<run>/artifacts
	client  Doer
}

// NewHTTPRepository creates a repository for the run artifact root under baseURL
func NewHTTPRepository(baseURL, root string, client Doer) *HTTPRepository {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRepository{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		root:    strings.Trim(root, "/"),
		client:  client,
	}
}

func (r *HTTPRepository) endpoint(p string) string {
	full := path.Join(r.root, p)
	segments := strings.Split(full, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.baseURL + ProxyPrefix + "/" + strings.Join(segments, "/")
}

func (r *HTTPRepository) upload(ctx context.Context, localPath, artifactPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", localPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.endpoint(artifactPath), f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	// Retrying clients need to rewind the body.
	req.GetBody = func() (io.ReadCloser, error) {
		return os.Open(localPath)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.ExternalServiceError("artifact upload", err)
	}
	defer resp.Body.Close()
	return checkResponse(resp, "upload "+artifactPath)
}

// LogArtifact uploads localPath to <artifactPath>/<basename>
func (r *HTTPRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	cleaned, err := CleanPath(artifactPath)
	if err != nil {
		return err
	}
	return r.upload(ctx, localPath, path.Join(cleaned, filepath.Base(localPath)))
}

// LogArtifacts uploads every file below localDir into artifactPath
func (r *HTTPRepository) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	cleaned, err := CleanPath(artifactPath)
	if err != nil {
		return err
	}
	return walkFiles(localDir, func(rel, full string) error {
		return r.upload(ctx, full, path.Join(cleaned, rel))
	})
}

type listResponse struct {
	Files []tracking.FileInfo `json:"files"`
}

// ListArtifacts lists the direct children of path, relative to the run root
func (r *HTTPRepository) ListArtifacts(ctx context.Context, p string) ([]tracking.FileInfo, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("path", path.Join(r.root, cleaned))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+ProxyPrefix+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.ExternalServiceError("artifact list", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, "list "+p); err != nil {
		return nil, err
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode artifact listing")
	}
	for i := range body.Files {
		body.Files[i].Path = path.Join(cleaned, path.Base(body.Files[i].Path))
	}
	return body.Files, nil
}

// OpenArtifact streams one file from the proxy
func (r *HTTPRepository) OpenArtifact(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(cleaned), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.ExternalServiceError("artifact download", err)
	}
	if err := checkResponse(resp, "download "+p); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkResponse(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != "" {
		return errors.New(apiErr.ErrorCode, apiErr.Message)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFound("artifact for " + what)
	}
	return errors.ExternalServiceError("artifact proxy",
		fmt.Errorf("%s: HTTP %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body))))
}
