package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/config"
	"github.com/Faultbox/m2mod/internal/logger"
)

// rootOptions holds the global flags and the configuration they produce.
type rootOptions struct {
	overrides config.Overrides

	cfg     *config.Config
	cfgPath string
	log     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "m2mod",
		Short:   "M2 model conversion and reference normalization",
		Long:    "Export M2 models to M2I, and import edited M2I files back into M2 with listfile-based path resolution.",
		Version: Version,

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	opts.overrides.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newShellCommand(opts))
	cmd.AddCommand(newLookupCommand(opts))
	cmd.AddCommand(newListfileCommand(opts))
	cmd.AddCommand(newRulesCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg, path, err := config.Load(&o.overrides)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	o.cfg = cfg
	o.cfgPath = path
	o.log = logger.Log
	if path != "" {
		o.log.Debug("Loaded config", zap.String("path", path))
	}
	return nil
}

// remember writes the configuration back so the next run starts with the
// same inputs.
func (o *rootOptions) remember() {
	var err error
	if o.cfgPath != "" {
		err = o.cfg.SaveTo(o.cfgPath)
	} else {
		err = o.cfg.Save()
	}
	if err != nil {
		o.log.Warn("Failed to save config", zap.Error(err))
	}
}
