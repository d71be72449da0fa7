package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ScriptConfigFile represents the structure of the pipeline script JSON file.
// Each step names an executable, the working directory it must run from, and
// a timeout. The pipeline scripts are slow batch jobs; production timeouts
// range from one minute (cleanup) to ten hours (quality checks).
type ScriptConfigFile struct {
	Extract   StepScript `json:"extract"`
	Transform StepScript `json:"transform"`
	Cleanup   StepScript `json:"cleanup"`
	Quality   StepScript `json:"quality"`
}

// StepScript defines how to invoke one pipeline step.
type StepScript struct {
	// Command is the executable to run (e.g., "bash").
	Command string `json:"command"`

	// Args are fixed leading arguments (e.g., the script path). Per-run
	// arguments such as the client name are appended by the orchestrator.
	Args []string `json:"args"`

	// Dir is the working directory the script must execute from.
	Dir string `json:"dir"`

	// TimeoutSeconds bounds the script's runtime.
	TimeoutSeconds int64 `json:"timeoutSeconds"`
}

// Timeout returns the step timeout as a duration.
func (s StepScript) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Production defaults, matching the deployed script environment.
const (
	defaultExtractTimeoutSeconds   = 3600  // 1 hour
	defaultTransformTimeoutSeconds = 3600  // 1 hour
	defaultCleanupTimeoutSeconds   = 60    // 1 minute
	defaultQualityTimeoutSeconds   = 36000 // 10 hours
)

// LoadScriptConfig loads pipeline script configuration from a JSON file.
func LoadScriptConfig(filePath string) (*ScriptConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script config file: %w", err)
	}

	var config ScriptConfigFile
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse script config JSON: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid script config: %w", err)
	}

	return &config, nil
}

func (c *ScriptConfigFile) applyDefaults() {
	if c.Extract.TimeoutSeconds <= 0 {
		c.Extract.TimeoutSeconds = defaultExtractTimeoutSeconds
	}
	if c.Transform.TimeoutSeconds <= 0 {
		c.Transform.TimeoutSeconds = defaultTransformTimeoutSeconds
	}
	if c.Cleanup.TimeoutSeconds <= 0 {
		c.Cleanup.TimeoutSeconds = defaultCleanupTimeoutSeconds
	}
	if c.Quality.TimeoutSeconds <= 0 {
		c.Quality.TimeoutSeconds = defaultQualityTimeoutSeconds
	}
}

func (c *ScriptConfigFile) validate() error {
	steps := map[string]StepScript{
		"extract":   c.Extract,
		"transform": c.Transform,
		"cleanup":   c.Cleanup,
		"quality":   c.Quality,
	}
	for name, step := range steps {
		if step.Command == "" {
			return fmt.Errorf("step %q: command is required", name)
		}
		if step.Dir == "" {
			return fmt.Errorf("step %q: dir is required", name)
		}
	}
	return nil
}
