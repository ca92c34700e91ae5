package cmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var attachCmd = &cobra.Command{
	Use:   "attach [ID]",
	Short: "Attach an interactive shell to a sandbox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveSandboxArg(args)
		if err != nil {
			return err
		}
		return runAttach(id)
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func wsURL(path string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing --server %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// runAttach opens an interactive PTY session over /sandboxes/{id}/attach,
// puts the controlling terminal in raw mode for the duration, and pumps
// stdin/stdout/resize in both directions until either side closes.
func runAttach(id string) error {
	fd := int(os.Stdin.Fd())
	cols, rows := uint16(80), uint16(24)
	if w, h, err := term.GetSize(fd); err == nil {
		cols, rows = uint16(w), uint16(h)
	}

	target, err := wsURL(fmt.Sprintf("/sandboxes/%s/attach?cols=%d&rows=%d&tty=1", id, cols, rows))
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{Subprotocols: []string{"binary"}}
	conn, resp, err := dialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("attach: server returned %s", resp.Status)
		}
		return fmt.Errorf("attach: dialing %s: %w", target, err)
	}
	defer conn.Close()

	oldState, err := term.MakeRaw(fd)
	if err == nil {
		defer term.Restore(fd, oldState)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
				os.Stdout.Write(data)
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go watchResize(conn, fd)

	<-done
	return nil
}

// watchResize listens for SIGWINCH and relays new terminal dimensions as a
// control line, matching the attach bridge's resize control channel.
func watchResize(conn *websocket.Conn, fd int) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	for range sigCh {
		w, h, err := term.GetSize(fd)
		if err != nil {
			continue
		}
		line := "resize:" + strconv.Itoa(h) + ":" + strconv.Itoa(w)
		conn.WriteMessage(websocket.TextMessage, []byte(line))
	}
}
