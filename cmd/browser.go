package cmd

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/cmux/cmuxd/internal/mitm"
	"github.com/spf13/cobra"
)

var browserPort int

var browserCmd = &cobra.Command{
	Use:   "browser [ID]",
	Short: "Launch a local Chrome pointed at a sandbox through a per-session MITM proxy",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveSandboxArg(args)
		if err != nil {
			return err
		}

		wsBase, err := url.Parse(serverURL)
		if err != nil {
			return fmt.Errorf("parsing --server %q: %w", serverURL, err)
		}
		switch wsBase.Scheme {
		case "http":
			wsBase.Scheme = "ws"
		case "https":
			wsBase.Scheme = "wss"
		}

		ca, err := mitm.NewCA()
		if err != nil {
			return fmt.Errorf("generating MITM CA: %w", err)
		}

		srv := mitm.NewServer(ca, wsBase.String(), id, browserPort)
		localPort, err := srv.Listen()
		if err != nil {
			return fmt.Errorf("starting local MITM proxy: %w", err)
		}
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			<-sigCh
			cancel()
		}()

		go func() {
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				log.Printf("browser: mitm proxy stopped: %v", err)
			}
		}()

		startURL := fmt.Sprintf("http://127.0.0.1:%d/", browserPort)
		browserProc, err := mitm.LaunchBrowser(ctx, localPort, startURL)
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}

		return browserProc.Wait()
	},
}

func init() {
	rootCmd.AddCommand(browserCmd)
	browserCmd.Flags().IntVar(&browserPort, "port", 80, "sandbox port to preview")
}
