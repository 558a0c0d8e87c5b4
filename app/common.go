package app

import (
	"encoding/json"
	"os"
	"path/filepath"

	"mltrack/internal"
	"mltrack/internal/errors"
)

// SaveJSON writes data as indented JSON, creating parent directories
func SaveJSON(path string, data interface{}) error {
	encoded, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	internal.DefaultLogger.With("app").Info("json file saved at: %s", path)
	return nil
}

// LoadJSON reads a JSON object into a generic map
func LoadJSON(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("json file " + path)
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to parse %s", path))
	}
	internal.DefaultLogger.With("app").Info("json file loaded successfully from: %s", path)
	return out, nil
}
