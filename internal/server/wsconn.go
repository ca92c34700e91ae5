package server

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/websocket"
)

// negotiateSubprotocol chooses "binary" if the client offered it, else
// "base64" if offered, else "" (no subprotocol).
func negotiateSubprotocol(r *http.Request) string {
	offered := websocket.Subprotocols(r)
	for _, p := range offered {
		if p == "binary" {
			return "binary"
		}
	}
	for _, p := range offered {
		if p == "base64" {
			return "base64"
		}
	}
	return ""
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// upgradeWS upgrades r, echoing the negotiated subprotocol, and returns a
// connection wrapped so callers can always write/read raw bytes as binary
// messages: when the negotiated protocol is base64, writes round-trip
// through base64 as WebSocket text frames and reads are decoded back.
func upgradeWS(w http.ResponseWriter, r *http.Request) (backendConn, error) {
	proto := negotiateSubprotocol(r)
	u := upgrader
	if proto != "" {
		u.Subprotocols = []string{proto}
	}
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if proto == "base64" {
		return &base64Conn{conn: conn}, nil
	}
	return conn, nil
}

// backendConn is the interface both a raw *websocket.Conn and base64Conn
// satisfy; it matches backend.WSConn structurally.
type backendConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// base64Conn adapts a text-subprotocol WebSocket connection so the rest of
// the system can treat it like a binary one: every write is base64-encoded
// into a text frame, every text frame read is base64-decoded back to bytes.
type base64Conn struct {
	conn *websocket.Conn
}

func (b *base64Conn) ReadMessage() (int, []byte, error) {
	mt, data, err := b.conn.ReadMessage()
	if err != nil {
		return mt, nil, err
	}
	if mt != websocket.TextMessage {
		return mt, data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return mt, nil, err
	}
	return websocket.BinaryMessage, decoded, nil
}

func (b *base64Conn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.BinaryMessage {
		return b.conn.WriteMessage(messageType, data)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return b.conn.WriteMessage(websocket.TextMessage, []byte(encoded))
}

func (b *base64Conn) Close() error { return b.conn.Close() }
