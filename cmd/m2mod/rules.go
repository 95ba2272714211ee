package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/m2mod/pkg/rules"
)

func newRulesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect normalization rules",
	}
	cmd.AddCommand(newRulesCheckCommand(opts))
	return cmd
}

func newRulesCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [rules.yaml]",
		Short: "Validate rule pairs and print them as a table",
		Long: `Parse and encode every rule pair, then print the set in order.

Without an argument the rules section of the config file is checked. A file
argument holds a YAML list in the same form as that section.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgs := opts.cfg.Rules
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				cfgs = nil
				if err := yaml.Unmarshal(data, &cfgs); err != nil {
					return fmt.Errorf("parsing %s: %w", args[0], err)
				}
			}

			set, err := rules.FromConfig(cfgs)
			if err != nil {
				return err
			}
			if err := set.WriteTable(cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d rule pair(s) OK\n", set.Len())
			return nil
		},
	}
}
