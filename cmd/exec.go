package cmd

import (
	"os"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec ID -- CMD [ARGS...]",
	Short: "Run a one-shot command in a sandbox",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		command := args[1:]

		var resp backend.ExecResponse
		err := newAPIClient().post("/sandboxes/"+id+"/exec", backend.ExecRequest{Command: command}, &resp)
		if err != nil {
			return err
		}
		os.Stdout.WriteString(resp.Stdout)
		os.Stderr.WriteString(resp.Stderr)
		if resp.ExitCode != 0 {
			os.Exit(resp.ExitCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
