// Package config handles m2mod configuration loading and management.
package config

import (
	"fmt"
	"time"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/listfile"
	"github.com/Faultbox/m2mod/pkg/rules"
)

// Config holds all m2mod settings.
type Config struct {
	Paths    PathsConfig        `yaml:"paths"`
	Export   ExportConfig       `yaml:"export"`
	Import   ImportConfig       `yaml:"import"`
	Engine   EngineConfig       `yaml:"engine"`
	Listfile ListfileConfig     `yaml:"listfile"`
	Rules    []rules.PairConfig `yaml:"rules"`
	UI       UIConfig           `yaml:"ui"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// PathsConfig holds the directories passed to the engine.
type PathsConfig struct {
	WorkingDirectory  string `yaml:"working_directory"`
	OutputDirectory   string `yaml:"output_directory"`   // Empty writes next to the input under Export/
	MappingsDirectory string `yaml:"mappings_directory"` // Listfile .csv/.txt files
}

// ExportConfig holds the last export inputs.
type ExportConfig struct {
	InputM2   string `yaml:"input_m2"`
	OutputM2I string `yaml:"output_m2i"`
}

// ImportConfig holds the last import inputs.
type ImportConfig struct {
	InputM2        string `yaml:"input_m2"`
	InputM2I       string `yaml:"input_m2i"`
	ReplaceM2      string `yaml:"replace_m2"`
	ReplaceEnabled bool   `yaml:"replace_enabled"`
}

// EngineConfig selects the engine host binary and its settings.
type EngineConfig struct {
	HostPath string          `yaml:"host_path"`
	HostArgs []string        `yaml:"host_args"`
	Settings engine.Settings `yaml:"settings"`
}

// ListfileConfig controls where the community listfile comes from.
type ListfileConfig struct {
	URL       string             `yaml:"url"`
	S3        *listfile.S3Config `yaml:"s3,omitempty"` // Takes precedence over URL when set
	CacheFile string             `yaml:"cache_file"`   // Relative to the mappings directory
	MaxAge    time.Duration      `yaml:"max_age"`
	Timeout   time.Duration      `yaml:"timeout"`
}

// UIConfig holds interactive settings.
type UIConfig struct {
	Prompt  string `yaml:"prompt"` // terminal, dialog or auto
	Workers int    `yaml:"workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Prompt kinds.
const (
	PromptTerminal = "terminal"
	PromptDialog   = "dialog"
	PromptAuto     = "auto"
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			MappingsDirectory: listfile.DefaultMappingsDirectory,
		},
		Engine: EngineConfig{
			Settings: engine.DefaultSettings(),
		},
		Listfile: ListfileConfig{
			URL:       listfile.DefaultURL,
			CacheFile: listfile.DefaultCacheFile,
			MaxAge:    listfile.DefaultMaxAge,
			Timeout:   listfile.DefaultFetchTimeout,
		},
		UI: UIConfig{
			Prompt:  PromptTerminal,
			Workers: 2,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch c.UI.Prompt {
	case PromptTerminal, PromptDialog, PromptAuto:
	default:
		return fmt.Errorf("ui.prompt: unknown prompt kind %q", c.UI.Prompt)
	}
	if c.UI.Workers < 1 {
		return fmt.Errorf("ui.workers: must be at least 1, got %d", c.UI.Workers)
	}
	if c.Listfile.MaxAge < 0 || c.Listfile.Timeout < 0 {
		return fmt.Errorf("listfile: durations must not be negative")
	}
	if _, err := c.RuleSet(); err != nil {
		return err
	}
	return nil
}

// RuleSet builds the normalization rules from the rules section.
func (c *Config) RuleSet() (*rules.Set, error) {
	set, err := rules.FromConfig(c.Rules)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return set, nil
}
