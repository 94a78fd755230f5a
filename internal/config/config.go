// Package config loads liveness service settings from the environment and
// an optional YAML challenge file.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-liveness/pkg/challenge"
)

// Defaults used when the environment leaves a setting unset.
const (
	DefaultPort        = "8090"
	DefaultHoldSeconds = 3
	DefaultYawBand     = 10.0
	DefaultSmileFloor  = 0.30
	DefaultMaxFPS      = 30.0
	DefaultLogLevel    = "info"
)

// Config holds every runtime setting.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string // "text" or "json"; empty picks from GO_ENV

	Challenge ChallengeConfig
	MaxFPS    float64
}

// ChallengeConfig describes the challenge every session runs.
type ChallengeConfig struct {
	HoldSeconds float64      `yaml:"hold_seconds"`
	YawBand     float64      `yaml:"yaw_band"`
	SmileFloor  float64      `yaml:"smile_floor"`
	Locale      string       `yaml:"locale"`
	Tasks       []TaskConfig `yaml:"tasks"`

	// File is where the settings were read from, if anywhere.
	File string `yaml:"-"`
}

// TaskConfig is one task entry. An empty prompt takes the locale's default.
type TaskConfig struct {
	Kind   string `yaml:"kind"`
	Prompt string `yaml:"prompt,omitempty"`
}

// UnmarshalYAML accepts either a bare kind name or a {kind, prompt} map.
func (t *TaskConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Kind = node.Value
		return nil
	}
	type plain TaskConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = TaskConfig(p)
	return nil
}

// envString returns the env var or the default.
func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float. Unset or
// empty returns the default; anything else that is not a positive number
// is an ErrInvalidConfiguration.
func envFloat(key string, defaultVal float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a positive number", challenge.ErrInvalidConfiguration, key, s)
	}
	return f, nil
}

// envList splits a comma-separated env var, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the environment. When LIVENESS_CHALLENGE_FILE is set, values
// present in that file override the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      envString("LIVENESS_PORT", DefaultPort),
		LogLevel:  envString("LOG_LEVEL", DefaultLogLevel),
		LogFormat: os.Getenv("LOG_FORMAT"),
		Challenge: ChallengeConfig{
			Locale: envString("LIVENESS_LOCALE", challenge.DefaultLocale),
		},
	}

	var err error
	floats := []struct {
		key string
		def float64
		dst *float64
	}{
		{"LIVENESS_MAX_FPS", DefaultMaxFPS, &cfg.MaxFPS},
		{"LIVENESS_HOLD_SECONDS", DefaultHoldSeconds, &cfg.Challenge.HoldSeconds},
		{"LIVENESS_YAW_BAND", DefaultYawBand, &cfg.Challenge.YawBand},
		{"LIVENESS_SMILE_FLOOR", DefaultSmileFloor, &cfg.Challenge.SmileFloor},
	}
	for _, f := range floats {
		if *f.dst, err = envFloat(f.key, f.def); err != nil {
			return nil, err
		}
	}
	for _, k := range envList("LIVENESS_TASKS") {
		cfg.Challenge.Tasks = append(cfg.Challenge.Tasks, TaskConfig{Kind: k})
	}

	if path := os.Getenv("LIVENESS_CHALLENGE_FILE"); path != "" {
		if err := cfg.Challenge.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile overlays the non-zero values from a YAML challenge file. The file
// is checked against the embedded challenge schema first.
func (c *ChallengeConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read challenge file: %w", err)
	}

	if err := validateChallengeYAML(data); err != nil {
		return fmt.Errorf("%w: %s: %v", challenge.ErrInvalidConfiguration, path, err)
	}

	var file ChallengeConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse challenge file %s: %w", path, err)
	}

	if file.HoldSeconds != 0 {
		c.HoldSeconds = file.HoldSeconds
	}
	if file.YawBand != 0 {
		c.YawBand = file.YawBand
	}
	if file.SmileFloor != 0 {
		c.SmileFloor = file.SmileFloor
	}
	if file.Locale != "" {
		c.Locale = file.Locale
	}
	if len(file.Tasks) > 0 {
		c.Tasks = file.Tasks
	}
	c.File = path
	return nil
}

// Build creates the challenge definition. Without configured tasks the
// standard LookStraight, Smile, TurnLeft order is used.
func (c ChallengeConfig) Build() (*challenge.Challenge, error) {
	prompts := challenge.PromptsFor(c.Locale)

	var tasks []challenge.Task
	if len(c.Tasks) == 0 {
		tasks = challenge.TasksFor(challenge.DefaultKinds, c.Locale)
	} else {
		tasks = make([]challenge.Task, 0, len(c.Tasks))
		for _, tc := range c.Tasks {
			kind, err := challenge.ParseKind(tc.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", challenge.ErrInvalidConfiguration, err)
			}
			prompt := tc.Prompt
			if prompt == "" {
				prompt = prompts[kind]
			}
			tasks = append(tasks, challenge.Task{Kind: kind, Prompt: prompt})
		}
	}

	hold := time.Duration(c.HoldSeconds * float64(time.Second))
	return challenge.New(tasks,
		challenge.WithHold(hold),
		challenge.WithThresholds(challenge.Thresholds{
			YawBandDegrees: c.YawBand,
			SmileFloor:     c.SmileFloor,
		}),
	)
}
