package artifacts

import (
	"net/url"
	"path/filepath"
	"strings"

	"mltrack/internal/errors"
	"mltrack/ports"
)

// NewRepository picks the repository for a run's artifact URI.
//
//	file:///abs/path, /abs/path, rel/path   local filesystem
//	mlflow-artifacts:/1/<run>/artifacts     proxy on the tracking server at trackingURL
//	mlflow-artifacts://host:port/1/<run>/…  proxy on the named server
func NewRepository(artifactURI, trackingURL string, client Doer) (ports.ArtifactRepository, error) {
	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:"):
		u, err := url.Parse(artifactURI)
		if err != nil {
			return nil, errors.InvalidParameter("invalid artifact URI: " + artifactURI)
		}
		base := trackingURL
		if u.Host != "" {
			scheme := "http"
			if tu, err := url.Parse(trackingURL); err == nil && tu.Scheme != "" {
				scheme = tu.Scheme
			}
			base = scheme + "://" + u.Host
		}
		if base == "" {
			return nil, errors.ConfigInvalid("an HTTP tracking URI is required for " + artifactURI)
		}
		return NewHTTPRepository(base, u.Path, client), nil
	case strings.HasPrefix(artifactURI, "file://"):
		u, err := url.Parse(artifactURI)
		if err != nil {
			return nil, errors.InvalidParameter("invalid artifact URI: " + artifactURI)
		}
		return NewLocalRepository(filepath.FromSlash(u.Path)), nil
	case strings.Contains(artifactURI, "://"):
		return nil, errors.ConfigInvalid("unsupported artifact URI scheme: " + artifactURI)
	default:
		return NewLocalRepository(filepath.FromSlash(artifactURI)), nil
	}
}

// LocalRootURI turns a directory into the file:// URI experiments store as
// their artifact location
func LocalRootURI(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve artifact root %s", dir)
	}
	return "file://" + filepath.ToSlash(abs), nil
}
