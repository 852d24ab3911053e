package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/agentarena/api/internal/model"
)

// ErrInvalidConfig marks a job configuration the runner refuses to execute.
var ErrInvalidConfig = errors.New("invalid experiment configuration")

// ExperimentConfig is the decoded form of a job's opaque config map.
type ExperimentConfig struct {
	ExperimentID    string                `mapstructure:"experiment_id"`
	Domain          string                `mapstructure:"domain"`
	ExperimentType  model.ExperimentType  `mapstructure:"experiment_type"`
	Models          []string              `mapstructure:"models"`
	ContextStrategy model.ContextStrategy `mapstructure:"context_injection_strategy"`
	Adversarial     bool                  `mapstructure:"adversarial"`
	Temperature     *float64              `mapstructure:"temperature"`
	NumArticles     int                   `mapstructure:"num_articles"`
	MaxTurns        int                   `mapstructure:"max_turns"`
	DatasetPath     string                `mapstructure:"dataset_path"`
	DatasetContent  string                `mapstructure:"dataset_content"`
}

// DecodeConfig converts a job config map and validates it. Numbers and
// booleans submitted as strings are accepted. An empty context strategy is
// left for the runner to fill from the domain.
func DecodeConfig(raw map[string]interface{}) (*ExperimentConfig, error) {
	var cfg ExperimentConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ExperimentConfig) validate() error {
	var missing []string
	if c.Domain == "" {
		missing = append(missing, "domain")
	}
	if c.ExperimentType == "" {
		missing = append(missing, "experiment_type")
	}
	if len(c.Models) == 0 {
		missing = append(missing, "models")
	}

	var result *multierror.Error
	if len(missing) > 0 {
		result = multierror.Append(result, fmt.Errorf("Missing required configuration: %s", strings.Join(missing, ", ")))
	}
	if c.ExperimentType != "" && !validType(c.ExperimentType) {
		result = multierror.Append(result, fmt.Errorf("unknown experiment_type %q", c.ExperimentType))
	}
	if c.ContextStrategy != "" && !validStrategy(c.ContextStrategy) {
		result = multierror.Append(result, fmt.Errorf("unknown context_injection_strategy %q", c.ContextStrategy))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		result = multierror.Append(result, fmt.Errorf("temperature %.2f out of range 0-2", *c.Temperature))
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinErrors
	return result
}

// joinErrors renders aggregated validation failures on one line so they read
// well in a job's error_message.
func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func validType(t model.ExperimentType) bool {
	for _, v := range model.ValidExperimentTypes {
		if v == t {
			return true
		}
	}
	return false
}

func validStrategy(s model.ContextStrategy) bool {
	for _, v := range model.ValidContextStrategies {
		if v == s {
			return true
		}
	}
	return false
}

// Echo returns the config as it is recorded in run metadata. The inline
// dataset is left out.
func (c *ExperimentConfig) Echo() map[string]interface{} {
	echo := map[string]interface{}{
		"experiment_id":              c.ExperimentID,
		"domain":                     c.Domain,
		"experiment_type":            string(c.ExperimentType),
		"models":                     c.Models,
		"context_injection_strategy": string(c.ContextStrategy),
		"adversarial":                c.Adversarial,
		"num_articles":               c.NumArticles,
		"max_turns":                  c.MaxTurns,
	}
	if c.Temperature != nil {
		echo["temperature"] = *c.Temperature
	}
	if c.DatasetPath != "" {
		echo["dataset_path"] = c.DatasetPath
	}
	return echo
}
