package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xsswatch/xsswatch/internal/rules"
)

func newSignaturesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "signatures",
		Short: "List the signature catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			catalog, err := rules.BuildCatalog(cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tNAME\tPATTERN")
			for _, sig := range catalog.Signatures() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", sig.ID, sig.Severity, sig.Name, sig.Pattern)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file with extra rules")

	return cmd
}
