package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("config file not found")

// Load reads a YAML config file over the defaults, expanding environment
// variables first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes YAML config bytes over the defaults. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Parse(data []byte, name string) (*Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(strings.NewReader(ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	return cfg, nil
}

// Duration wraps time.Duration for YAML strings like "200ms" or "20m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string. An empty string keeps the default.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
