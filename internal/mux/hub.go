package mux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
)

// broadcastCapacity bounds the per-client host-event channel; events for a
// client that cannot keep up are dropped rather than blocking the broadcaster.
const broadcastCapacity = 64

const ghAuthCacheTTL = 30 * time.Second

// PTYOpener spawns a backend-side PTY for an open_pty control request.
type PTYOpener interface {
	OpenPTY(ctx context.Context, sandboxID string, command []string, cols, rows uint16) (io.ReadWriteCloser, error)
}

// GHAuthBroker resolves a GitHub credential-proxying request. Hub caches
// results by request fingerprint for a short TTL so repeated requests from
// the same sandbox don't re-hit the broker.
type GHAuthBroker interface {
	ResolveGHAuth(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Hub is the process-wide mux control plane: it owns the broadcast
// subscriber set and the GitHub-auth response cache shared by every
// connected /mux client.
type Hub struct {
	opener PTYOpener
	broker GHAuthBroker

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	cacheMu sync.Mutex
	cache   map[string]ghCacheEntry
}

type subscriber struct {
	ch chan HostEvent
}

type ghCacheEntry struct {
	response json.RawMessage
	expires  time.Time
}

// NewHub builds a Hub that spawns PTYs via opener and, if broker is
// non-nil, resolves gh_auth_request control ops through it.
func NewHub(opener PTYOpener, broker GHAuthBroker) *Hub {
	return &Hub{
		opener: opener,
		broker: broker,
		subs:   make(map[*subscriber]struct{}),
		cache:  make(map[string]ghCacheEntry),
	}
}

// Broadcast delivers ev to every connected mux client, skipping (not
// blocking on) any client whose buffer is full; that client stays
// subscribed and simply misses ev.
func (h *Hub) Broadcast(ev HostEvent) (delivered int) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
			delivered++
		default:
			log.Printf("mux: host-event broadcast dropped for a lagging client")
		}
	}
	return delivered
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{ch: make(chan HostEvent, broadcastCapacity)}
	h.subMu.Lock()
	h.subs[s] = struct{}{}
	h.subMu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.subMu.Lock()
	delete(h.subs, s)
	h.subMu.Unlock()
	close(s.ch)
}

// Serve bridges one /mux WebSocket connection (already wrapped as a
// net.Conn) to the hub: the first stream the client opens is the control
// stream; every subsequent stream is a PTY data channel, matched to its
// open_pty request by a 4-byte channel id the client writes as the first
// bytes of the stream.
func (h *Hub) Serve(ctx context.Context, conn net.Conn) error {
	session, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		return fmt.Errorf("mux: starting yamux session: %w", err)
	}
	defer session.Close()

	control, err := session.Accept()
	if err != nil {
		return fmt.Errorf("mux: accepting control stream: %w", err)
	}
	defer control.Close()

	c := &conn_{
		hub:      h,
		session:  session,
		control:  control,
		channels: make(map[uint32]*channelState),
	}

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	done := make(chan struct{})
	go c.pumpHostEvents(sub, done)
	go c.acceptDataStreams(ctx)

	err = c.readControlLoop(ctx)
	close(done)
	c.closeAllChannels()
	return err
}

type channelState struct {
	rw     io.ReadWriteCloser
	resize func(cols, rows uint16) error
}

// conn_ holds the per-connection state for one Serve call (channel
// registry, the control stream, the yamux session it rides on).
type conn_ struct {
	hub     *Hub
	session *yamux.Session
	control io.ReadWriteCloser

	mu       sync.Mutex
	channels map[uint32]*channelState
	pending  map[uint32]pendingOpen
	writeMu  sync.Mutex
}

func (c *conn_) writeControl(msg ControlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeControl(c.control, msg)
}

func (c *conn_) pumpHostEvents(sub *subscriber, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			c.writeMu.Lock()
			err := writeHostEvent(c.control, ev)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *conn_) readControlLoop(ctx context.Context) error {
	for {
		tag, payload, err := readFrame(c.control)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if tag != TagControl {
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("mux: dropping malformed control frame: %v", err)
			continue
		}
		c.handleControl(ctx, msg)
	}
}

func (c *conn_) handleControl(ctx context.Context, msg ControlMessage) {
	switch msg.Op {
	case OpOpenPTY:
		c.registerPending(msg.ChannelID, msg.SandboxID, msg.Command, msg.Cols, msg.Rows)
	case OpResize:
		c.mu.Lock()
		ch := c.channels[msg.ChannelID]
		c.mu.Unlock()
		if ch != nil && ch.resize != nil {
			if err := ch.resize(msg.Cols, msg.Rows); err != nil {
				log.Printf("mux: resize channel %d: %v", msg.ChannelID, err)
			}
		}
	case OpClose:
		c.closeChannel(msg.ChannelID)
	case OpOpenURL:
		c.hub.Broadcast(HostEvent{Type: "open_url", URL: msg.URL})
	case OpGHAuthRequest:
		go c.handleGHAuthRequest(ctx, msg)
	default:
		log.Printf("mux: unknown control op %q", msg.Op)
	}
}

// pending holds open_pty requests waiting for their matching data stream.
type pendingOpen struct {
	sandboxID  string
	command    []string
	cols, rows uint16
}

func (c *conn_) registerPending(channelID uint32, sandboxID string, command []string, cols, rows uint16) {
	c.mu.Lock()
	if c.pending == nil {
		c.pending = make(map[uint32]pendingOpen)
	}
	c.pending[channelID] = pendingOpen{sandboxID: sandboxID, command: command, cols: cols, rows: rows}
	c.mu.Unlock()
}

func (c *conn_) takePending(channelID uint32) (pendingOpen, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[channelID]
	if ok {
		delete(c.pending, channelID)
	}
	return p, ok
}

func (c *conn_) acceptDataStreams(ctx context.Context) {
	for {
		stream, err := c.session.Accept()
		if err != nil {
			return
		}
		go c.handleDataStream(ctx, stream)
	}
}

func (c *conn_) handleDataStream(ctx context.Context, stream *yamux.Stream) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(stream, header); err != nil {
		stream.Close()
		return
	}
	channelID := be32(header)

	pending, ok := c.takePending(channelID)
	if !ok {
		log.Printf("mux: data stream for unknown channel %d", channelID)
		stream.Close()
		return
	}

	pty, err := c.hub.opener.OpenPTY(ctx, pending.sandboxID, pending.command, pending.cols, pending.rows)
	if err != nil {
		log.Printf("mux: open_pty for channel %d: %v", channelID, err)
		stream.Close()
		return
	}

	state := &channelState{rw: pty}
	if resizer, ok := pty.(interface{ Resize(cols, rows uint16) error }); ok {
		state.resize = resizer.Resize
	}
	c.mu.Lock()
	c.channels[channelID] = state
	c.mu.Unlock()

	go func() {
		io.Copy(stream, pty)
		stream.Close()
	}()
	io.Copy(pty, stream)
	c.closeChannel(channelID)
}

func (c *conn_) closeChannel(channelID uint32) {
	c.mu.Lock()
	ch := c.channels[channelID]
	delete(c.channels, channelID)
	c.mu.Unlock()
	if ch != nil {
		ch.rw.Close()
	}
}

func (c *conn_) closeAllChannels() {
	c.mu.Lock()
	chans := c.channels
	c.channels = make(map[uint32]*channelState)
	c.mu.Unlock()
	for _, ch := range chans {
		ch.rw.Close()
	}
}

func (c *conn_) handleGHAuthRequest(ctx context.Context, msg ControlMessage) {
	fingerprint := ghFingerprint(msg.Payload)

	c.hub.cacheMu.Lock()
	entry, ok := c.hub.cache[fingerprint]
	if ok && time.Now().Before(entry.expires) {
		c.hub.cacheMu.Unlock()
		c.writeControl(ControlMessage{Op: OpGHAuthResponse, RequestID: msg.RequestID, Payload: entry.response})
		return
	}
	c.hub.cacheMu.Unlock()

	if c.hub.broker == nil {
		errPayload, _ := json.Marshal(map[string]string{"error": "gh auth broker not configured"})
		c.writeControl(ControlMessage{Op: OpGHAuthResponse, RequestID: msg.RequestID, Payload: errPayload})
		return
	}

	resp, err := c.hub.broker.ResolveGHAuth(ctx, msg.Payload)
	if err != nil {
		errPayload, _ := json.Marshal(map[string]string{"error": err.Error()})
		c.writeControl(ControlMessage{Op: OpGHAuthResponse, RequestID: msg.RequestID, Payload: errPayload})
		return
	}

	c.hub.cacheMu.Lock()
	c.hub.cache[fingerprint] = ghCacheEntry{response: resp, expires: time.Now().Add(ghAuthCacheTTL)}
	c.hub.cacheMu.Unlock()

	c.writeControl(ControlMessage{Op: OpGHAuthResponse, RequestID: msg.RequestID, Payload: resp})
}

func ghFingerprint(payload json.RawMessage) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
