package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/cmux/cmuxd/internal/archiveutil"
	"github.com/cmux/cmuxd/internal/backend"
	"github.com/spf13/cobra"
)

var (
	newName string
	newEnv  []string
)

var newCmd = &cobra.Command{
	Use:   "new [PATH]",
	Short: "Create a sandbox, upload PATH as its workspace, and attach",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}

		c := newAPIClient()
		var sum backend.Summary
		if err := c.post("/sandboxes", backend.CreateRequest{Name: newName, Env: newEnv}, &sum); err != nil {
			return fmt.Errorf("creating sandbox: %w", err)
		}
		fmt.Fprintf(os.Stderr, "created sandbox %s\n", sum.ID)

		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(archiveutil.WriteTar(pw, path))
		}()
		if err := c.uploadArchive(sum.ID, pr); err != nil {
			return fmt.Errorf("uploading workspace: %w", err)
		}

		if err := setLastSandbox(sum.ID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: saving last sandbox id: %v\n", err)
		}

		return runAttach(sum.ID)
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVar(&newName, "name", "", "sandbox name")
	newCmd.Flags().StringArrayVar(&newEnv, "env", nil, "KEY=VALUE environment entries")
}
