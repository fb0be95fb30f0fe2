// Package config handles tagvm.toml (or tagvm.yaml) runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/tagvm/vm"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "tagvm.toml"

// Config represents a tagvm configuration file.
type Config struct {
	Runtime Runtime     `toml:"runtime" yaml:"runtime"`
	Log     Log         `toml:"log" yaml:"log"`
	Image   ImageConfig `toml:"image" yaml:"image"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Runtime sizes the object table, stack and vtables.
type Runtime struct {
	InitialTableSize int  `toml:"initial-table-size" yaml:"initial-table-size"`
	MaxTableSize     int  `toml:"max-table-size" yaml:"max-table-size"`
	StackSlots       int  `toml:"stack-slots" yaml:"stack-slots"`
	VTableSize       int  `toml:"vtable-size" yaml:"vtable-size"`
	Trace            bool `toml:"trace" yaml:"trace"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// ImageConfig configures snapshot output.
type ImageConfig struct {
	Output string `toml:"output" yaml:"output"`
	Store  string `toml:"store" yaml:"store"`
	Name   string `toml:"name" yaml:"name"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	d := vm.DefaultOptions()
	return &Config{
		Runtime: Runtime{
			InitialTableSize: d.InitialTableSize,
			MaxTableSize:     d.MaxTableSize,
			StackSlots:       d.StackSlots,
			VTableSize:       d.VTableSize,
		},
		Image: ImageConfig{Name: "default"},
	}
}

// Load parses the configuration file at path. Files ending in .yaml or
// .yml are read as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
		}
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a tagvm.toml file, then
// loads it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the runtime section against the runtime's limits.
func (c *Config) Validate() error {
	r := c.Runtime
	if r.InitialTableSize < vm.MinTableSize {
		return fmt.Errorf("runtime.initial-table-size %d is below the minimum %d", r.InitialTableSize, vm.MinTableSize)
	}
	if r.MaxTableSize < r.InitialTableSize {
		return fmt.Errorf("runtime.max-table-size %d is below initial-table-size %d", r.MaxTableSize, r.InitialTableSize)
	}
	if r.StackSlots < 8 {
		return fmt.Errorf("runtime.stack-slots %d cannot hold a frame", r.StackSlots)
	}
	if r.VTableSize < 1 {
		return fmt.Errorf("runtime.vtable-size must be positive, got %d", r.VTableSize)
	}
	return nil
}

// RuntimeOptions maps the runtime section to vm.Options.
func (c *Config) RuntimeOptions() vm.Options {
	opts := vm.DefaultOptions()
	opts.InitialTableSize = c.Runtime.InitialTableSize
	opts.MaxTableSize = c.Runtime.MaxTableSize
	opts.StackSlots = c.Runtime.StackSlots
	opts.VTableSize = c.Runtime.VTableSize
	opts.Trace = c.Runtime.Trace
	return opts
}

// LogFile returns the log file path or nil for stderr, in the form
// commonlog.Configure expects.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}
