package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/freekieb7/burrow/filesystem"
)

// Callbacks are engine wide hooks. Nil fields are skipped.
type Callbacks struct {
	// BeginRequest runs before routing; returning true means the request
	// was fully handled.
	BeginRequest func(c *Conn) bool
	// EndRequest receives the status of every served request.
	EndRequest func(c *Conn, status uint16)
	// ConnectionClose runs once per server connection before it is released.
	ConnectionClose func(c *Conn)
	// LogMessage sees warnings and errors first; returning true suppresses
	// the default logger.
	LogMessage func(level slog.Level, msg string) bool
}

type Config struct {
	Options   *Options
	Callbacks Callbacks
	UserData  any

	// Logger defaults to the OpenTelemetry slog bridge.
	Logger *slog.Logger
	// Files replaces the document_root file system.
	Files filesystem.Filesystem

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Engine is a running server. It is created by Start and released by Stop.
type Engine struct {
	options   *Options
	settings  atomic.Pointer[settings]
	router    *Router
	callbacks Callbacks
	userData  any
	logger    *slog.Logger
	files     filesystem.Filesystem
	tlsConfig *tls.Config
	telemetry *telemetry

	ports   []ListeningPort
	gates   []*gate
	gatesWG sync.WaitGroup
	pool    *WorkerPool

	stopping atomic.Bool
	stopOnce sync.Once

	connsMu sync.Mutex
	conns   map[*Conn]struct{}
}

// Start binds every listening port and starts serving. Either all ports are
// bound or none is left open.
func Start(cfg Config) (*Engine, error) {
	options := cfg.Options
	if options == nil {
		var err error
		if options, err = NewOptions(); err != nil {
			return nil, err
		}
	}
	options = options.clone()
	if err := options.validate(); err != nil {
		return nil, err
	}

	portSpec, _ := options.Get("listening_ports")
	ports, err := ParsePorts(portSpec)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		options:   options,
		router:    NewRouter(),
		callbacks: cfg.Callbacks,
		userData:  cfg.UserData,
		logger:    newLogger(cfg.Logger, cfg.Callbacks.LogMessage),
		files:     cfg.Files,
		conns:     make(map[*Conn]struct{}),
	}
	e.settings.Store(options.settings())

	var hasTLS, hasRedirect bool
	for _, port := range ports {
		hasTLS = hasTLS || port.TLS
		hasRedirect = hasRedirect || port.Redirect
	}
	if hasRedirect && !hasTLS {
		return nil, errors.New("http: redirect port configured without a TLS port")
	}
	if hasTLS {
		if e.tlsConfig, err = serverTLSConfig(options); err != nil {
			return nil, err
		}
	}

	if e.files == nil {
		if root, _ := options.Get("document_root"); root != "" {
			e.files = filesystem.NewLocalFileSystem(root)
			if isDir, err := e.files.IsDirectory("/"); err != nil || !isDir {
				return nil, fmt.Errorf("http: document_root %s is not a directory", root)
			}
		}
	}

	if e.telemetry, err = newTelemetry(cfg.MeterProvider, cfg.TracerProvider); err != nil {
		return nil, err
	}

	if err := e.bind(ports); err != nil {
		return nil, err
	}

	threads := options.integer("num_threads")
	e.pool = NewWorkerPool(threads, e.serveJob)
	e.pool.Start()

	for _, g := range e.gates {
		e.gatesWG.Add(1)
		go g.serve()
	}

	e.logger.Info("engine started", "ports", e.portStrings(), "threads", threads)
	return e, nil
}

// bind opens every port in order and rolls back on the first failure.
func (e *Engine) bind(ports []ListeningPort) error {
	for _, port := range ports {
		listener, err := listen(context.Background(), port)
		if err != nil {
			for _, g := range e.gates {
				g.listener.Close()
			}
			e.gates = nil
			return fmt.Errorf("http: cannot bind %s: %w", port, err)
		}

		if addr, ok := listener.Addr().(*net.TCPAddr); ok {
			port.Port = addr.Port
		}
		e.ports = append(e.ports, port)
		e.gates = append(e.gates, &gate{engine: e, port: port, listener: listener})
	}
	return nil
}

func (e *Engine) portStrings() []string {
	names := make([]string, len(e.ports))
	for i, port := range e.ports {
		names[i] = port.String()
	}
	return names
}

// Stop closes the listeners, interrupts every connection and waits for all
// gates and workers to return. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopping.Store(true)

		for _, g := range e.gates {
			g.close()
		}

		// A gate may be blocked handing a connection to busy workers, so
		// connections are interrupted while gates and workers wind down.
		done := make(chan struct{})
		go func() {
			e.gatesWG.Wait()
			e.pool.Stop()
			close(done)
		}()

		for {
			e.interruptConns()
			select {
			case <-done:
				e.logger.Info("engine stopped")
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}

func (e *Engine) interruptConns() {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()

	for c := range e.conns {
		c.conn.SetReadDeadline(time.Now())
	}
}

// track registers a live connection. It reports false once Stop has begun.
func (e *Engine) track(c *Conn) bool {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()

	if e.stopping.Load() {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

func (e *Engine) untrack(c *Conn) {
	e.connsMu.Lock()
	delete(e.conns, c)
	e.connsMu.Unlock()
}

// Ports returns the listening ports in configuration order.
func (e *Engine) Ports() []ListeningPort {
	ports := make([]ListeningPort, len(e.ports))
	copy(ports, e.ports)
	return ports
}

// Option returns the value of a configuration option; unknown names report
// false.
func (e *Engine) Option(name string) (string, bool) {
	return e.options.Get(name)
}

// SetOption changes an option on the running engine. Only options read per
// request can change; the rest return ErrOptionImmutable.
func (e *Engine) SetOption(name, value string) error {
	opt, ok := lookupOption(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	if !opt.live {
		return fmt.Errorf("%w: %s", ErrOptionImmutable, name)
	}
	if err := e.options.Set(name, value); err != nil {
		return err
	}
	e.settings.Store(e.options.settings())
	return nil
}

func (e *Engine) UserData() any {
	return e.userData
}

func (e *Engine) Router() *Router {
	return e.router
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) Handle(pattern string, handler Handler, data any) {
	e.router.Handle(pattern, handler, data)
}

func (e *Engine) HandleWebSocket(pattern string, handler *WebSocketHandler, data any) {
	e.router.HandleWebSocket(pattern, handler, data)
}
