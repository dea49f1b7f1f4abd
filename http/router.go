package http

import (
	"strings"
	"sync"
)

// Handler serves one request. It returns the status it sent, or 0 to leave
// the request to the static file fallback.
type Handler func(c *Conn, data any) uint16

// WebSocketHandler groups the callbacks of a websocket endpoint. Nil fields
// are skipped.
type WebSocketHandler struct {
	// Connect runs before the handshake is answered; an error rejects the
	// upgrade with 403.
	Connect func(c *Conn, data any) error
	// Ready runs once after the handshake and may write the first message.
	Ready func(c *Conn, data any)
	// Data receives every complete message with flags 0x80|opcode. Returning
	// false closes the connection.
	Data func(c *Conn, flags byte, payload []byte, data any) bool
	// Close runs once when the session ends.
	Close func(c *Conn, data any)
}

// Binding associates a URI pattern with a handler. A binding with neither
// handler only carries user data.
type Binding struct {
	Pattern   string
	Handler   Handler
	WebSocket *WebSocketHandler
	UserData  any

	seq uint64
}

func (b Binding) isSentinel() bool {
	return b.Handler == nil && b.WebSocket == nil
}

// Router resolves URIs to bindings. An exact pattern match wins, otherwise
// the most specific matching pattern; among equally specific matches the
// most recently registered one wins.
type Router struct {
	mu       sync.RWMutex
	bindings []*Binding
	exact    map[string]*Binding
	seq      uint64
}

func NewRouter() *Router {
	return &Router{
		exact: make(map[string]*Binding),
	}
}

func (router *Router) register(binding Binding) {
	router.mu.Lock()
	defer router.mu.Unlock()

	router.seq++
	binding.seq = router.seq

	for i, existing := range router.bindings {
		if existing.Pattern == binding.Pattern {
			router.bindings[i] = &binding
			router.index(&binding)
			return
		}
	}

	router.bindings = append(router.bindings, &binding)
	router.index(&binding)
}

func (router *Router) index(binding *Binding) {
	if !strings.HasSuffix(binding.Pattern, "*") {
		router.exact[binding.Pattern] = binding
	}
}

// Handle binds pattern to a request handler. A nil handler registers a
// binding that only carries data.
func (router *Router) Handle(pattern string, handler Handler, data any) {
	router.register(Binding{Pattern: pattern, Handler: handler, UserData: data})
}

// HandleWebSocket binds pattern to a websocket endpoint.
func (router *Router) HandleWebSocket(pattern string, handler *WebSocketHandler, data any) {
	router.register(Binding{Pattern: pattern, WebSocket: handler, UserData: data})
}

// Remove drops the binding registered for exactly pattern.
func (router *Router) Remove(pattern string) {
	router.mu.Lock()
	defer router.mu.Unlock()

	for i, existing := range router.bindings {
		if existing.Pattern == pattern {
			router.bindings = append(router.bindings[:i], router.bindings[i+1:]...)
			delete(router.exact, pattern)
			return
		}
	}
}

// Resolve returns the binding for uri.
func (router *Router) Resolve(uri string) (Binding, bool) {
	router.mu.RLock()
	defer router.mu.RUnlock()

	if binding, found := router.exact[uri]; found {
		return *binding, true
	}

	var (
		best        *Binding
		specificity = -1
	)
	for _, binding := range router.bindings {
		n, ok := match(binding.Pattern, uri)
		if !ok {
			continue
		}
		if n > specificity || (n == specificity && binding.seq > best.seq) {
			best = binding
			specificity = n
		}
	}

	if best == nil {
		return Binding{}, false
	}
	return *best, true
}

// match reports whether pattern covers uri and how many literal characters
// of the pattern matched. "/a" covers "/a" and "/a/...", "/a/" covers
// everything below it and "/a*" covers any continuation of "/a".
func match(pattern, uri string) (int, bool) {
	if prefix, wildcard := strings.CutSuffix(pattern, "*"); wildcard {
		return len(prefix), strings.HasPrefix(uri, prefix)
	}
	if pattern == uri {
		return len(pattern), true
	}
	if !strings.HasPrefix(uri, pattern) {
		return 0, false
	}
	if strings.HasSuffix(pattern, "/") || uri[len(pattern)] == '/' {
		return len(pattern), true
	}
	return 0, false
}
