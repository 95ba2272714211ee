package config

import "github.com/spf13/pflag"

// Overrides holds command-line values that take priority over the file.
type Overrides struct {
	ConfigPath  string
	Debug       bool
	OutputDir   string
	MappingsDir string
	WorkingDir  string
	Host        string
	Prompt      string
}

// BindFlags registers the global flags on fs.
func (o *Overrides) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&o.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&o.OutputDir, "output-dir", "", "Output root for imported models")
	fs.StringVar(&o.MappingsDir, "mappings-dir", "", "Directory holding listfile mappings")
	fs.StringVar(&o.WorkingDir, "working-dir", "", "Engine working directory")
	fs.StringVar(&o.Host, "host", "", "Path to the engine host binary")
	fs.StringVar(&o.Prompt, "prompt", "", "Prompt kind: terminal, dialog or auto")
}

// apply applies CLI overrides to the config.
func (o *Overrides) apply(cfg *Config) {
	if o == nil {
		return
	}
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
	if o.OutputDir != "" {
		cfg.Paths.OutputDirectory = o.OutputDir
	}
	if o.MappingsDir != "" {
		cfg.Paths.MappingsDirectory = o.MappingsDir
	}
	if o.WorkingDir != "" {
		cfg.Paths.WorkingDirectory = o.WorkingDir
	}
	if o.Host != "" {
		cfg.Engine.HostPath = o.Host
	}
	if o.Prompt != "" {
		cfg.UI.Prompt = o.Prompt
	}
}
