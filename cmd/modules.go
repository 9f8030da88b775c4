package cmd

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/biodumpy/internal/sources"
)

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "modules",
		Short:       "List the available modules",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"module", "formats", "description"})
			for _, info := range sources.Catalog() {
				table.Append([]string{info.Name, strings.Join(info.Formats, ","), info.Description})
			}
			table.Render()
			return nil
		},
	}
}
