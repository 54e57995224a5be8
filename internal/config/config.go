// Package config loads the YAML run configuration of the lift command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"aotlift/internal/isa"
	"aotlift/internal/lifter"
	"aotlift/internal/metadata"
)

var (
	ErrNoBinary   = errors.New("config: binary is required")
	ErrNoMetadata = errors.New("config: metadata is required")
)

// Function selects one function to lift. Either Name or Address must be
// set; Size bounds the bytes decoded and defaults to the lifter's own
// end-of-function detection.
type Function struct {
	Name    string           `yaml:"name"`
	Address metadata.Address `yaml:"address"`
	Size    uint64           `yaml:"size"`
}

// Config is one lift run.
type Config struct {
	Binary       string     `yaml:"binary"`
	Metadata     string     `yaml:"metadata"`
	Arch         string     `yaml:"arch"` // overrides the ELF machine
	Out          string     `yaml:"out"`
	Workers      int        `yaml:"workers"`
	Mode         string     `yaml:"mode"`
	MaxSteps     int        `yaml:"max_steps"`
	MaxExpansion uint64     `yaml:"max_expansion"`
	Functions    []Function `yaml:"functions"` // empty: every method with an address
	Pseudocode   bool       `yaml:"pseudocode"`
	IL           bool       `yaml:"il"` // managed IL listing per function
	Graph        bool       `yaml:"graph"`
}

// Load reads path. Relative binary, metadata and out paths are resolved
// against the directory holding the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	base := filepath.Dir(path)
	c.Binary = resolve(base, c.Binary)
	c.Metadata = resolve(base, c.Metadata)
	c.Out = resolve(base, c.Out)
	return c, nil
}

// Parse decodes a config document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return c, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks required fields and the spelling of enumerations.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return ErrNoBinary
	}
	if c.Metadata == "" {
		return ErrNoMetadata
	}
	if c.Arch != "" {
		if _, err := isa.ParseArch(c.Arch); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := lifter.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	for i, f := range c.Functions {
		if f.Name == "" && f.Address == 0 {
			return fmt.Errorf("config: functions[%d]: name or address required", i)
		}
	}
	return nil
}

// LifterOptions maps the config onto engine options.
func (c *Config) LifterOptions() (lifter.Options, error) {
	mode, err := lifter.ParseMode(c.Mode)
	if err != nil {
		return lifter.Options{}, fmt.Errorf("config: %w", err)
	}
	return lifter.Options{
		Mode:         mode,
		MaxSteps:     c.MaxSteps,
		MaxExpansion: c.MaxExpansion,
	}, nil
}
