package cmd

import (
	"fmt"
	"io"
	"log"
	"net"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	proxyPort   int
	proxyListen int
)

var proxyCmd = &cobra.Command{
	Use:   "proxy ID [--port P]",
	Short: "Forward a local TCP port into a sandbox's port P over the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if proxyPort == 0 {
			return fmt.Errorf("--port is required")
		}

		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", proxyListen))
		if err != nil {
			return fmt.Errorf("listening locally: %w", err)
		}
		defer ln.Close()
		fmt.Printf("forwarding %s -> sandbox %s:%d\n", ln.Addr(), id, proxyPort)

		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			go proxyOneConn(conn, id, proxyPort)
		}
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().IntVar(&proxyPort, "port", 0, "sandbox port to forward to")
	proxyCmd.Flags().IntVar(&proxyListen, "listen", 0, "local port to listen on (0 = ephemeral)")
}

func proxyOneConn(local net.Conn, sandboxID string, port int) {
	defer local.Close()

	target, err := wsURL(fmt.Sprintf("/sandboxes/%s/proxy?port=%d", sandboxID, port))
	if err != nil {
		log.Printf("proxy: %v", err)
		return
	}
	dialer := websocket.Dialer{Subprotocols: []string{"binary"}}
	ws, resp, err := dialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			log.Printf("proxy: server returned %s", resp.Status)
		} else {
			log.Printf("proxy: dialing %s: %v", target, err)
		}
		return
	}
	defer ws.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if _, err := local.Write(data); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := local.Read(buf)
		if n > 0 {
			if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("proxy: reading local connection: %v", err)
			}
			break
		}
	}
	<-done
}
