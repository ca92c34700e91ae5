package cmd

import (
	"fmt"
	"os"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/spf13/cobra"
)

var sandboxesCmd = &cobra.Command{
	Use:   "sandboxes",
	Short: "Sandbox lifecycle subcommands (list|create|show|exec|ssh|delete)",
}

var sandboxesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sandboxes",
	RunE:  lsCmd.RunE,
}

var (
	sandboxesCreateName string
	sandboxesCreateEnv  []string
)

var sandboxesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sum backend.Summary
		if err := newAPIClient().post("/sandboxes", backend.CreateRequest{Name: sandboxesCreateName, Env: sandboxesCreateEnv}, &sum); err != nil {
			return err
		}
		if err := setLastSandbox(sum.ID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: saving last sandbox id: %v\n", err)
		}
		fmt.Println(sum.ID)
		return nil
	},
}

var sandboxesShowCmd = &cobra.Command{
	Use:   "show [ID]",
	Short: "Show one sandbox's summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveSandboxArg(args)
		if err != nil {
			return err
		}
		var sum backend.Summary
		if err := newAPIClient().get("/sandboxes/"+id, &sum); err != nil {
			return err
		}
		fmt.Printf("%+v\n", sum)
		return nil
	},
}

var sandboxesExecCmd = &cobra.Command{
	Use:   "exec ID -- CMD [ARGS...]",
	Short: "Run a one-shot command in a sandbox",
	Args:  cobra.MinimumNArgs(2),
	RunE:  execCmd.RunE,
}

// sandboxesSSHCmd opens an interactive shell the same way `attach` does,
// kept as a separate entry point so scripts invoking either name keep working.
var sandboxesSSHCmd = &cobra.Command{
	Use:   "ssh [ID]",
	Short: "Open an interactive shell in a sandbox",
	Args:  cobra.MaximumNArgs(1),
	RunE:  attachCmd.RunE,
}

var sandboxesDeleteCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Delete a sandbox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveSandboxArg(args)
		if err != nil {
			return err
		}
		if err := newAPIClient().delete("/sandboxes/"+id, nil); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sandboxesCmd)
	sandboxesCmd.AddCommand(sandboxesListCmd, sandboxesCreateCmd, sandboxesShowCmd, sandboxesExecCmd, sandboxesSSHCmd, sandboxesDeleteCmd)
	sandboxesCreateCmd.Flags().StringVar(&sandboxesCreateName, "name", "", "sandbox name")
	sandboxesCreateCmd.Flags().StringArrayVar(&sandboxesCreateEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
}
