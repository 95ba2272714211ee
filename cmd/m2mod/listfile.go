package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Faultbox/m2mod/pkg/listfile"
)

func newLookupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <id|fragment>",
		Short: "Resolve a file data id or a partial path in the listfile",
		Long: `Look up a numeric file data id and print its path, or look up a path
fragment and print the id and full path of the first match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			a.prepareListfile(ctx)
			res, err := a.ctl.Lookup(ctx, a.cfg.Paths.MappingsDirectory, args[0])
			if err != nil {
				return shown(err)
			}
			if !res.Found {
				return shown(listfile.ErrNotFound)
			}
			return nil
		},
	}
}

func newListfileCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listfile",
		Short: "Manage the listfile manifests in the mappings directory",
	}

	cmd.AddCommand(newListfileFetchCommand(opts))
	cmd.AddCommand(newListfileInfoCommand(opts))
	cmd.AddCommand(newListfileSearchCommand(opts))
	cmd.AddCommand(newListfileClearCommand(opts))
	return cmd
}

func newListfileFetchCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the community listfile if missing or stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if err := a.ensureListfile(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listfile: %s\n", a.cfg.ListfileCache(a.log).Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "download even if the cached copy is fresh")
	return cmd
}

func newListfileInfoCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show manifest statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			storage, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Directory:   %s\n", storage.Dir())
			fmt.Fprintf(w, "Records:     %d\n", storage.Len())
			fmt.Fprintf(w, "Max file id: %d\n", storage.MaxFileID())
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Files by type:")

			for i, s := range storage.ExtensionCounts() {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(w, "  %-10s %d\n", s.Ext, s.Count)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most N extensions (0 = all)")
	return cmd
}

func newListfileSearchCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <fragment>",
		Short: "List records whose path contains fragment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			storage, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}

			matches := storage.Search(args[0], limit)
			for _, rec := range matches {
				fmt.Fprintf(cmd.OutOrStdout(), "%d;%s\n", rec.FileID, rec.Path)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n(%d files matched)\n", len(matches))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "limit output to N records (0 = all)")
	return cmd
}

func newListfileClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the downloaded listfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.ListfileCache(opts.log).Path
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
			return nil
		},
	}
}
