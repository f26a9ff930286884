// Package config loads the navigator configuration: which server to talk to,
// which trees it offers, and where local state and logs live.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// DefaultTimeout applies when the file sets no timeout.
const DefaultTimeout = 15 * time.Second

// Environment overrides.
const (
	EnvServer  = "TREENAV_SERVER"
	EnvStateDB = "TREENAV_STATE_DB"
)

// Config is the parsed .treenav/config.yaml.
type Config struct {
	// Server is the base URL of the collection server.
	Server string `yaml:"server"`

	// Timeout bounds each request (default: 15s)
	Timeout Duration `yaml:"timeout,omitempty"`

	// Trees lists the hierarchies the navigator can open, first is the default
	Trees []Tree `yaml:"trees"`

	// StateDB is the sqlite file holding the last location of each tree
	StateDB string `yaml:"state_db,omitempty"`

	// LogFile receives diagnostics while the UI owns the terminal
	LogFile string `yaml:"log_file,omitempty"`

	// Path is the file this config was loaded from.
	Path string `yaml:"-"`
}

// Tree is one configured hierarchy.
type Tree struct {
	Name    string `yaml:"name"`
	Table   string `yaml:"table"`
	TreeDef int    `yaml:"treedef"`

	// Ranks, when set, replaces the server's tree-definition fetch.
	Ranks []model.Rank `yaml:"ranks,omitempty"`
}

// Ref returns the model reference for the tree.
func (t Tree) Ref() model.TreeRef {
	name := t.Name
	if name == "" {
		name = strings.ToLower(t.Table)
	}
	return model.TreeRef{Name: name, Table: t.Table, TreeDef: t.TreeDef}
}

// Duration is a time.Duration written as "15s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("server is required")
	}
	if len(c.Trees) == 0 {
		return errors.New("at least one tree is required")
	}
	seen := make(map[string]bool)
	for i, t := range c.Trees {
		if t.Table == "" {
			return fmt.Errorf("trees[%d]: table is required", i)
		}
		if t.TreeDef <= 0 {
			return fmt.Errorf("trees[%d]: treedef must be positive", i)
		}
		name := t.Ref().Name
		if seen[name] {
			return fmt.Errorf("trees[%d]: duplicate tree name %q", i, name)
		}
		seen[name] = true
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// TreeByName returns the tree called name; an empty name picks the first.
func (c *Config) TreeByName(name string) (Tree, error) {
	if name == "" && len(c.Trees) > 0 {
		return c.Trees[0], nil
	}
	for _, t := range c.Trees {
		if strings.EqualFold(t.Ref().Name, name) {
			return t, nil
		}
	}
	return Tree{}, fmt.Errorf("no tree named %q in %s", name, c.Path)
}

// RequestTimeout returns the effective per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout)
}

// Load reads, defaults, overrides and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServer); v != "" {
		c.Server = v
	}
	if v := os.Getenv(EnvStateDB); v != "" {
		c.StateDB = v
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.StateDB == "" {
		c.StateDB = filepath.Join(StateDir(), "locations.db")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(StateDir(), "treenav.log")
	}
	c.StateDB = expandHome(c.StateDB)
	c.LogFile = expandHome(c.LogFile)
}

// ExampleConfig returns a starter configuration.
func ExampleConfig() Config {
	return Config{
		Server:  "https://specify.example.org",
		Timeout: Duration(DefaultTimeout),
		Trees: []Tree{
			{Name: "taxon", Table: "Taxon", TreeDef: 1},
			{Name: "geography", Table: "Geography", TreeDef: 1},
			{Name: "storage", Table: "Storage", TreeDef: 1},
		},
	}
}
