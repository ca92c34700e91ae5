// Package proxy implements the authenticated forward proxy: one
// process-wide HTTP/1.1 listener handling plain requests, WebSocket
// upgrades, and CONNECT tunnels, with Basic-auth lookup into a per-agent
// ProxyContext and loopback-to-sandbox-preview rewriting.
package proxy

import "sync"

// ProxyContext is the per-agent identity a Basic-auth username resolves to.
// Route, if set, enables loopback rewriting to a preview subdomain.
type ProxyContext struct {
	Username string
	Password string
	Route    *Route
}

// Route names the sandbox preview a loopback target rewrites to:
// https://cmux-<MorphID>-<Scope>-<port>.<DomainSuffix>.
type Route struct {
	MorphID      string
	Scope        string
	DomainSuffix string
}

// Registry is the concurrent map of username -> ProxyContext that request
// authentication is checked against.
type Registry struct {
	mu    sync.RWMutex
	byUser map[string]*ProxyContext
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*ProxyContext)}
}

func (r *Registry) Put(ctx *ProxyContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[ctx.Username] = ctx
}

func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, username)
}

func (r *Registry) Lookup(username string) (*ProxyContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.byUser[username]
	return ctx, ok
}
