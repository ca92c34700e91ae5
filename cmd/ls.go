package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []backend.Summary
		if err := newAPIClient().get("/sandboxes", &list); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tID\tNAME\tSTATUS\tWORKSPACE")
		for _, s := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.ID, s.Name, s.Status, s.Workspace)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
