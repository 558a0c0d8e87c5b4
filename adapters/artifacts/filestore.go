package artifacts

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"mltrack/domain/tracking"
	"mltrack/internal/errors"
)

// FileStore keeps artifacts as plain files under a root directory. It backs
// both local runs and the artifact proxy of the tracking server.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the directory the store writes to
func (s *FileStore) Root() string {
	return s.root
}

// CleanPath normalises an artifact path and rejects anything that would
// escape the root
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", errors.InvalidParameter("artifact path must be relative: " + p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", errors.InvalidParameter("artifact path must not contain '..': " + p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func (s *FileStore) resolve(p string) (string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes r to path, creating parent directories
func (s *FileStore) Put(ctx context.Context, p string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(p)
	if err != nil {
		return err
	}
	if target == filepath.Clean(s.root) {
		return errors.InvalidParameter("artifact path must name a file")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create artifact directory for %s", p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return errors.Wrapf(err, "failed to stage artifact %s", p)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write artifact %s", p)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write artifact %s", p)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Wrapf(err, "failed to store artifact %s", p)
	}
	return nil
}

// Open streams the file at path
func (s *FileStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if os.IsNotExist(err) {
		return nil, errors.NotFound("artifact '" + p + "'")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open artifact %s", p)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, errors.InvalidParameter("artifact '" + p + "' is a directory")
	}
	return f, nil
}

// List returns the direct children of the directory at path, with paths
// relative to the store root. A missing directory lists as empty.
func (s *FileStore) List(ctx context.Context, p string) ([]tracking.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, filepath.FromSlash(cleaned))

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list artifacts under %s", p)
	}

	out := make([]tracking.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		info := tracking.FileInfo{Path: path.Join(cleaned, entry.Name()), IsDir: entry.IsDir()}
		if !entry.IsDir() {
			if fi, err := entry.Info(); err == nil {
				info.FileSize = fi.Size()
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// walkFiles calls fn for every regular file under dir with its slash
// separated path relative to dir
func walkFiles(dir string, fn func(rel, full string) error) error {
	return filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, full)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), full)
	})
}
