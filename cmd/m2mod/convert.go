package main

import (
	"github.com/spf13/cobra"
)

func newExportCommand(opts *rootOptions) *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert an M2 model to M2I",
		Long: `Load an M2 model and write it as an M2I intermediate file.

Inputs default to the last values stored in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if in != "" {
				cfg.Export.InputM2 = in
			}
			if out != "" {
				cfg.Export.OutputM2I = out
			}

			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return shown(a.ctl.Export(cmd.Context(), cfg.ExportRequest()))
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "input M2 file")
	cmd.Flags().StringVar(&out, "out", "", "output M2I file")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var in, m2i, replace string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Convert an edited M2I back into an M2 model",
		Long: `Preload the original M2 and the edited M2I, then save the result.

The output path is resolved against the listfile when an output directory
is configured; otherwise the model is written to an Export directory next
to the input. New files may be appended to a mapping file on request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if in != "" {
				cfg.Import.InputM2 = in
			}
			if m2i != "" {
				cfg.Import.InputM2I = m2i
			}
			if replace != "" {
				cfg.Import.ReplaceM2 = replace
				cfg.Import.ReplaceEnabled = true
			}
			req, err := cfg.ImportRequest()
			if err != nil {
				return err
			}

			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if err := a.ctl.Preload(ctx, req); err != nil {
				return shown(err)
			}
			if req.OutputDirectory != "" {
				a.prepareListfile(ctx)
			}
			res, err := a.ctl.Commit(ctx)
			a.adoptWorkingDirectory(res)
			return shown(err)
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "original M2 file")
	cmd.Flags().StringVar(&m2i, "m2i", "", "edited M2I file")
	cmd.Flags().StringVar(&replace, "replace", "", "replacement M2 whose name and data are used for the output")
	return cmd
}
