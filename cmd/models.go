package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/catalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the catalog of elementary models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPARAMETERS\tNOTES")
		for _, m := range catalog.Default().Models() {
			note := ""
			if m.Constant {
				note = "constant"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, strings.Join(m.Params, ", "), note)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
