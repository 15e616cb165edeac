package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/config"
	"github.com/seantiz/urumi/internal/endpoint"
)

func newEnginesCommand() *cobra.Command {
	var storeID string

	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List the engine catalog and how a store of each type would be deployed",
		Long: `List the engine catalog in effect for the current configuration,
including URUMI_ENGINES_FILE if set. Useful for checking a catalog file
before starting the service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			ep := endpoint.Resolve(storeID, cfg.Endpoint)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tCHART\tVALUES\tOVERRIDES")
			for _, e := range cat.List() {
				tmpl, err := cat.Resolve(e.Name, cfg.Endpoint.Mode, catalog.Vars{StoreID: storeID, Hostname: ep.Hostname})
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, tmpl.Chart, tmpl.ValuesFile, formatOverrides(tmpl.Overrides))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&storeID, "store-id", "urumi-xxxxx", "store id used to render overrides")

	return cmd
}

func formatOverrides(overrides []catalog.Override) string {
	if len(overrides) == 0 {
		return "-"
	}
	s := ""
	for i, o := range overrides {
		if i > 0 {
			s += ","
		}
		s += o.Key + "=" + o.Value
	}
	return s
}
