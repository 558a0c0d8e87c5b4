package app

import (
	"fmt"
	"path/filepath"

	"mltrack/internal/config"
	"mltrack/internal/errors"
)

const (
	DefaultConfigPath = "config/config.yaml"
	DefaultParamsPath = "params.yaml"
)

// EvaluationConfig is everything the evaluation stage needs
type EvaluationConfig struct {
	PathOfModel     string
	TrainingData    string
	AllParams       map[string]interface{}
	MLflowURI       string
	ParamsImageSize []int
	ParamsBatchSize int
	ScoresPath      string
}

// pipelineConfig mirrors config/config.yaml
type pipelineConfig struct {
	ArtifactsRoot string `yaml:"artifacts_root"`
	Evaluation    struct {
		PathOfModel  string `yaml:"path_of_model"`
		TrainingData string `yaml:"training_data"`
		MLflowURI    string `yaml:"mlflow_uri"`
		ScoresPath   string `yaml:"scores_path"`
	} `yaml:"evaluation"`
}

// ConfigurationManager loads the pipeline and parameter files once and
// hands out per-stage configuration
type ConfigurationManager struct {
	config pipelineConfig
	params map[string]interface{}
}

// NewConfigurationManager reads configPath and paramsPath
func NewConfigurationManager(configPath, paramsPath string) (*ConfigurationManager, error) {
	var cfg pipelineConfig
	if err := config.DecodeYAML(configPath, &cfg); err != nil {
		return nil, err
	}
	params, err := config.ReadYAML(paramsPath)
	if err != nil {
		return nil, err
	}
	if cfg.ArtifactsRoot == "" {
		cfg.ArtifactsRoot = "artifacts"
	}
	return &ConfigurationManager{config: cfg, params: params}, nil
}

// Params returns the raw parameter map
func (m *ConfigurationManager) Params() map[string]interface{} {
	return m.params
}

// GetEvaluationConfig resolves the evaluation stage settings, falling back
// to the standard artifact layout under artifacts_root
func (m *ConfigurationManager) GetEvaluationConfig() (*EvaluationConfig, error) {
	ev := m.config.Evaluation
	cfg := &EvaluationConfig{
		PathOfModel:  ev.PathOfModel,
		TrainingData: ev.TrainingData,
		AllParams:    m.params,
		MLflowURI:    ev.MLflowURI,
		ScoresPath:   ev.ScoresPath,
	}
	if cfg.PathOfModel == "" {
		cfg.PathOfModel = filepath.Join(m.config.ArtifactsRoot, "training", "model.json")
	}
	if cfg.TrainingData == "" {
		cfg.TrainingData = filepath.Join(m.config.ArtifactsRoot, "data_ingestion", "Chest-CT-Scan-data")
	}
	if cfg.ScoresPath == "" {
		cfg.ScoresPath = "scores.json"
	}

	size, err := intList(m.params["IMAGE_SIZE"])
	if err != nil || len(size) != 3 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("IMAGE_SIZE must be [height, width, channels], got %v", m.params["IMAGE_SIZE"]))
	}
	cfg.ParamsImageSize = size

	batch, ok := m.params["BATCH_SIZE"].(int)
	if !ok || batch <= 0 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("BATCH_SIZE must be a positive integer, got %v", m.params["BATCH_SIZE"]))
	}
	cfg.ParamsBatchSize = batch
	return cfg, nil
}

func intList(v interface{}) ([]int, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, errors.ConfigInvalid(fmt.Sprintf("expected a list, got %T", v))
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, ok := item.(int)
		if !ok {
			return nil, errors.ConfigInvalid(fmt.Sprintf("expected an integer, got %v", item))
		}
		out[i] = n
	}
	return out, nil
}
