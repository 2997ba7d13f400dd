// Package config resolves engine configuration from explicit kwargs,
// environment variables, an optional YAML/JSON file, and built-in defaults,
// in that descending priority order, matching the configuration
// surface.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidMaxIterations is returned when max_iterations resolves to 0.
// Synthesizing "no answer" without ever calling the model is
// indistinguishable from a caller bug, so this is rejected rather than
// silently substituted with a default (Open Question decision 2).
var ErrInvalidMaxIterations = errors.New("config: max_iterations must be >= 1")

// Config is the fully-resolved engine configuration.
type Config struct {
	Model                  string `yaml:"model" json:"model"`
	PoolSize               int    `yaml:"pool_size" json:"pool_size"`
	MaxIterations          int    `yaml:"max_iterations" json:"max_iterations"`
	MaxTracesPerProject    int    `yaml:"max_traces_per_project" json:"max_traces_per_project"`
	VerifyCitations        bool   `yaml:"verify_citations" json:"verify_citations"`
	Verify                 bool   `yaml:"verify" json:"verify"`
	MaxSubcallContentChars int    `yaml:"max_subcall_content_chars" json:"max_subcall_content_chars"`
	SandboxImage           string `yaml:"sandbox_image" json:"sandbox_image"`
	SandboxMemoryLimit     string `yaml:"sandbox_memory_limit" json:"sandbox_memory_limit"`
	SandboxCPUCount        int    `yaml:"sandbox_cpu_count" json:"sandbox_cpu_count"`
	ExecuteTimeoutSeconds  int    `yaml:"execute_timeout_seconds" json:"execute_timeout_seconds"`
	PromptsDir             string `yaml:"prompts_dir" json:"prompts_dir"`

	// Reserved knobs documenting Open Question decisions without changing
	// default runtime behaviour.
	PoolDiscardOnResetFailure  bool `yaml:"pool_discard_on_reset_failure" json:"pool_discard_on_reset_failure"`
	TraceRedactLiveWrites      bool `yaml:"trace_redact_live_writes" json:"trace_redact_live_writes"`
	VerificationReprompt       bool `yaml:"verification_reprompt_on_failure" json:"verification_reprompt_on_failure"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		PoolSize:                  3,
		MaxIterations:             20,
		MaxTracesPerProject:       50,
		VerifyCitations:           true,
		Verify:                    false,
		MaxSubcallContentChars:    500_000,
		SandboxCPUCount:           1,
		ExecuteTimeoutSeconds:     30,
		PoolDiscardOnResetFailure: true,
		TraceRedactLiveWrites:     false,
		VerificationReprompt:      false,
	}
}

// Overrides holds explicit kwargs, the highest-priority layer.
type Overrides struct {
	Model                  *string
	PoolSize               *int
	MaxIterations          *int
	MaxTracesPerProject    *int
	VerifyCitations        *bool
	Verify                 *bool
	MaxSubcallContentChars *int
	SandboxImage           *string
	SandboxMemoryLimit     *string
	SandboxCPUCount        *int
	ExecuteTimeoutSeconds  *int
	PromptsDir             *string
}

// Load resolves a Config by layering, from lowest to highest priority:
// defaults, an optional YAML/JSON file at filePath (skipped if empty or
// missing), environment variables (RLM_ prefixed), then kwargs.
func Load(filePath string, env map[string]string, kwargs Overrides) (Config, error) {
	cfg := Defaults()

	if filePath != "" {
		if err := applyFile(&cfg, filePath); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	applyOverrides(&cfg, kwargs)

	if cfg.MaxIterations == 0 {
		return Config{}, ErrInvalidMaxIterations
	}
	return cfg, nil
}

// LoadWithDotenv behaves like Load but first loads dotenvPath (if it
// exists) into the process environment via godotenv, then resolves env
// vars from os.Environ(). Existing environment variables are never
// overwritten by the .env file's values (godotenv.Load's own semantics).
func LoadWithDotenv(filePath, dotenvPath string, kwargs Overrides) (Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return Config{}, fmt.Errorf("config: load .env: %w", err)
			}
		}
	}
	return Load(filePath, environAsMap(), kwargs)
}

func environAsMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("config: parse %s as JSON: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s as YAML: %w", path, err)
	}
	return nil
}

// envKeys maps environment variable names (RLM_ prefixed) to the Config
// field they set.
const envPrefix = "RLM_"

func applyEnv(cfg *Config, env map[string]string) error {
	get := func(name string) (string, bool) {
		v, ok := env[envPrefix+name]
		return v, ok
	}

	if v, ok := get("MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := get("PROMPTS_DIR"); ok {
		cfg.PromptsDir = v
	}
	if v, ok := get("SANDBOX_IMAGE"); ok {
		cfg.SandboxImage = v
	}
	if v, ok := get("SANDBOX_MEMORY_LIMIT"); ok {
		cfg.SandboxMemoryLimit = v
	}

	if err := applyEnvInt(get, "POOL_SIZE", &cfg.PoolSize); err != nil {
		return err
	}
	if err := applyEnvInt(get, "MAX_ITERATIONS", &cfg.MaxIterations); err != nil {
		return err
	}
	if err := applyEnvInt(get, "MAX_TRACES_PER_PROJECT", &cfg.MaxTracesPerProject); err != nil {
		return err
	}
	if err := applyEnvInt(get, "MAX_SUBCALL_CONTENT_CHARS", &cfg.MaxSubcallContentChars); err != nil {
		return err
	}
	if err := applyEnvInt(get, "SANDBOX_CPU_COUNT", &cfg.SandboxCPUCount); err != nil {
		return err
	}
	if err := applyEnvInt(get, "EXECUTE_TIMEOUT_SECONDS", &cfg.ExecuteTimeoutSeconds); err != nil {
		return err
	}

	if err := applyEnvBool(get, "VERIFY_CITATIONS", &cfg.VerifyCitations); err != nil {
		return err
	}
	if err := applyEnvBool(get, "VERIFY", &cfg.Verify); err != nil {
		return err
	}
	if err := applyEnvBool(get, "POOL_DISCARD_ON_RESET_FAILURE", &cfg.PoolDiscardOnResetFailure); err != nil {
		return err
	}
	if err := applyEnvBool(get, "TRACE_REDACT_LIVE_WRITES", &cfg.TraceRedactLiveWrites); err != nil {
		return err
	}
	if err := applyEnvBool(get, "VERIFICATION_REPROMPT_ON_FAILURE", &cfg.VerificationReprompt); err != nil {
		return err
	}
	return nil
}

func applyEnvInt(get func(string) (string, bool), name string, field *int) error {
	v, ok := get(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: env %s%s=%q is not an integer", envPrefix, name, v)
	}
	*field = n
	return nil
}

// applyEnvBool parses a boolean env var strictly: only "true"/"false"
// (case-insensitive) are accepted. Anything else fails fast rather than
// silently defaulting.
func applyEnvBool(get func(string) (string, bool), name string, field *bool) error {
	v, ok := get(name)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		*field = true
	case "false":
		*field = false
	default:
		return fmt.Errorf("config: env %s%s=%q is not a valid boolean (want true/false)", envPrefix, name, v)
	}
	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.PoolSize != nil {
		cfg.PoolSize = *o.PoolSize
	}
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.MaxTracesPerProject != nil {
		cfg.MaxTracesPerProject = *o.MaxTracesPerProject
	}
	if o.VerifyCitations != nil {
		cfg.VerifyCitations = *o.VerifyCitations
	}
	if o.Verify != nil {
		cfg.Verify = *o.Verify
	}
	if o.MaxSubcallContentChars != nil {
		cfg.MaxSubcallContentChars = *o.MaxSubcallContentChars
	}
	if o.SandboxImage != nil {
		cfg.SandboxImage = *o.SandboxImage
	}
	if o.SandboxMemoryLimit != nil {
		cfg.SandboxMemoryLimit = *o.SandboxMemoryLimit
	}
	if o.SandboxCPUCount != nil {
		cfg.SandboxCPUCount = *o.SandboxCPUCount
	}
	if o.ExecuteTimeoutSeconds != nil {
		cfg.ExecuteTimeoutSeconds = *o.ExecuteTimeoutSeconds
	}
	if o.PromptsDir != nil {
		cfg.PromptsDir = *o.PromptsDir
	}
}
