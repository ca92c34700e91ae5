package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/mux"
	"github.com/cmux/cmuxd/internal/openurl"
	"github.com/cmux/cmuxd/internal/pve"
	"github.com/cmux/cmuxd/internal/sandbox"
	"github.com/cmux/cmuxd/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort       int
	serveBackend    string
	serveSocketPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cmuxd daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		be, opener := buildBackend(ctx)
		hub := mux.NewHub(opener, nil)

		srv := server.New(be, hub)

		openurlSrv := openurl.New(serveSocketPath, hub)
		if err := openurlSrv.Listen(); err != nil {
			log.Printf("serve: open-url socket unavailable: %v", err)
		} else {
			go func() {
				if err := openurlSrv.Serve(); err != nil {
					log.Printf("serve: open-url socket: %v", err)
				}
			}()
			defer openurlSrv.Close()
		}

		addr := fmt.Sprintf(":%d", servePort)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("serve: received %v, shutting down", sig)
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		log.Printf("cmuxd listening on %s (backend: %s)", addr, serveBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 39373, "HTTP API port")
	serveCmd.Flags().StringVar(&serveBackend, "backend", envOrDefault("CMUX_BACKEND", "local"), "Sandbox backend: local or pve")
	serveCmd.Flags().StringVar(&serveSocketPath, "open-url-socket", envOrDefault("CMUX_OPEN_URL_SOCKET", openurl.DefaultSocketPath), "Unix socket path for the open-url bridge")
}

// buildBackend constructs the configured backend, falling back to a
// Degraded stub (so the HTTP surface stays reachable for diagnostics) if
// initialization fails. opener is the PTYOpener handed to the mux hub: only
// the local backend can actually open PTYs, so remote/degraded backends get
// a stub that fails every open_pty request with an error.
func buildBackend(ctx context.Context) (backend.Backend, mux.PTYOpener) {
	switch serveBackend {
	case "pve":
		cfg, err := pve.LoadConfig()
		if err != nil {
			log.Printf("serve: pve config: %v", err)
			return &sandbox.Degraded{Reason: err.Error()}, nopOpener{}
		}
		mgr, err := pve.NewManager(ctx, cfg)
		if err != nil {
			log.Printf("serve: pve backend init: %v", err)
			return &sandbox.Degraded{Reason: err.Error()}, nopOpener{}
		}
		return mgr, nopOpener{}

	case "local":
		cfg := sandbox.DefaultConfig()
		mgr, err := sandbox.NewManager(cfg)
		if err != nil {
			log.Printf("serve: local backend init: %v", err)
			return &sandbox.Degraded{Reason: err.Error()}, nopOpener{}
		}
		return mgr, mgr

	default:
		reason := fmt.Sprintf("unknown backend %q", serveBackend)
		log.Printf("serve: %s", reason)
		return &sandbox.Degraded{Reason: reason}, nopOpener{}
	}
}

// nopOpener backs the mux hub's PTYOpener role for backends that cannot
// open PTYs (pve, degraded); open_pty requests against it always fail.
type nopOpener struct{}

func (nopOpener) OpenPTY(ctx context.Context, sandboxID string, command []string, cols, rows uint16) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("mux: pty sessions are not supported by this backend")
}
