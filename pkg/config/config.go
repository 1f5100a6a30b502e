// Package config loads a YAML-based engine configuration that a caller of
// brtkv can use to open a database (cmd/brtutil does not use it), grounded on
// the teacher's cmd/warren (apply.go's yaml.Unmarshal into a tagged
// struct read off a file path).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coreframe/brtkv/internal/node"
)

// EngineConfig is the on-disk shape of a database's tuning knobs
// (spec §4.1/§4.4/§4.5 "Typical configuration values").
type EngineConfig struct {
	NodeSize         uint32 `yaml:"nodeSize"`
	Fanout           int    `yaml:"fanout"`
	CacheBudgetBytes int    `yaml:"cacheBudgetBytes"`
	LogDir           string `yaml:"logDir"`
	LogSegmentBytes  int64  `yaml:"logSegmentBytes"`
	LogBufferBytes   int    `yaml:"logBufferBytes"`
	NoSync           bool   `yaml:"noSync"`
	DupFlags         string `yaml:"dupFlags"`
}

// Default returns the configuration spec.md's "Typical configuration
// values" names: node_size 4096, fanout 16, 1 MB log buffer, 100 MB
// segment size.
func Default() EngineConfig {
	return EngineConfig{
		NodeSize:         4096,
		Fanout:           16,
		CacheBudgetBytes: 64 << 20,
		LogDir:           "wal",
		LogSegmentBytes:  100 << 20,
		LogBufferBytes:   1 << 20,
		DupFlags:         "none",
	}
}

// Dup translates the config file's dupFlags string ("none", "unsort",
// "sort") to the node.Dup value brtkv.Options expects.
func (c EngineConfig) Dup() (node.Dup, error) {
	switch c.DupFlags {
	case "", "none":
		return node.DupNone, nil
	case "unsort":
		return node.DupUnsort, nil
	case "sort":
		return node.DupSort, nil
	default:
		return 0, fmt.Errorf("config: unknown dupFlags %q", c.DupFlags)
	}
}

// Load reads and parses an EngineConfig from path, starting from Default
// so a file only needs to override the fields it cares about.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
