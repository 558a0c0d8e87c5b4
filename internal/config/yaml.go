package config

import (
	"os"

	"mltrack/internal/errors"

	"gopkg.in/yaml.v3"
)

// ReadYAML decodes a YAML file into a generic map. An empty file is an error
// because every YAML file the pipeline reads is expected to carry settings.
func ReadYAML(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to parse %s", path))
	}
	if len(out) == 0 {
		return nil, errors.ConfigInvalid(path + " is empty")
	}
	return out, nil
}

// DecodeYAML decodes a YAML file into a typed value
func DecodeYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to parse %s", path))
	}
	return nil
}
