package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
)

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	opts := backend.AttachOptions{TTY: true}
	q := r.URL.Query()
	if v, err := strconv.ParseUint(q.Get("cols"), 10, 16); err == nil {
		opts.Cols = uint16(v)
	}
	if v, err := strconv.ParseUint(q.Get("rows"), 10, 16); err == nil {
		opts.Rows = uint16(v)
	}
	if v := q.Get("tty"); v == "0" || v == "false" {
		opts.TTY = false
	}
	if cmd := q["command"]; len(cmd) > 0 {
		opts.Command = cmd
	}

	conn, err := upgradeWS(w, r)
	if err != nil {
		log.Printf("server: attach upgrade for %s: %v", id, err)
		return
	}
	defer conn.Close()

	if err := s.Backend.Attach(r.Context(), id, conn, opts); err != nil {
		log.Printf("server: attach %s: %v", id, err)
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if err != nil || port <= 0 || port > 65535 {
		writeError(w, errs.InvalidRequest("invalid or missing port query parameter"))
		return
	}

	conn, err := upgradeWS(w, r)
	if err != nil {
		log.Printf("server: proxy upgrade for %s: %v", id, err)
		return
	}
	defer conn.Close()

	if err := s.Backend.Proxy(r.Context(), id, port, conn); err != nil {
		log.Printf("server: proxy %s:%d: %v", id, port, err)
	}
}

// handleMux upgrades to a WebSocket using nhooyr.io/websocket (the mux
// control plane's wire library) and adapts the result to a net.Conn so the
// yamux session underneath Hub.Serve can ride directly on it.
func (s *Server) handleMux(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("server: mux accept: %v", err)
		return
	}

	netConn := websocket.NetConn(r.Context(), conn, websocket.MessageBinary)
	defer netConn.Close()

	if err := s.Backend.MuxAttach(r.Context(), netConn, s.Hub); err != nil {
		log.Printf("server: mux session: %v", err)
		conn.Close(websocket.StatusInternalError, err.Error())
	}
}
