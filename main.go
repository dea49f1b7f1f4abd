package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/freekieb7/burrow/http"
	"github.com/freekieb7/burrow/telemetry"
	"github.com/freekieb7/burrow/websocket"
)

const name = "github.com/freekieb7/burrow"

// optionFlags collects repeated -option name=value flags.
type optionFlags []string

func (o *optionFlags) String() string {
	return strings.Join(*o, ",")
}

func (o *optionFlags) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("option %q is not of the form name=value", value)
	}
	*o = append(*o, value)
	return nil
}

func (o optionFlags) pairs() []string {
	kv := make([]string, 0, 2*len(o))
	for _, option := range o {
		name, value, _ := strings.Cut(option, "=")
		kv = append(kv, name, value)
	}
	return kv
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalln(err)
	}
}

func run(ctx context.Context, args []string) (err error) {
	flags := flag.NewFlagSet("burrow", flag.ContinueOnError)
	var options optionFlags
	flags.Var(&options, "option", "engine option as name=value, may be repeated")
	adminAddr := flags.String("admin", "", "listen address of the admin endpoint, empty disables it")
	withTelemetry := flags.Bool("telemetry", false, "export traces, metrics and logs over OTLP gRPC")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Handle SIGINT (CTRL+C) gracefully.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *withTelemetry {
		shutdown, setupErr := telemetry.Setup(ctx)
		if setupErr != nil {
			return setupErr
		}
		defer func() {
			err = errors.Join(err, shutdown(context.Background()))
		}()
		logger = otelslog.NewLogger(name)
	}

	engineOptions, err := http.NewOptions(options.pairs()...)
	if err != nil {
		return err
	}

	engine, err := http.Start(http.Config{Options: engineOptions, Logger: logger})
	if err != nil {
		return err
	}
	defer engine.Stop()

	engine.HandleWebSocket("/echo", echoHandler(logger), nil)

	serverErrCh := make(chan error, 1)
	if *adminAddr != "" {
		admin := &nethttp.Server{
			Addr:              *adminAddr,
			Handler:           adminHandler(engine, engineOptions),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin endpoint listening", "addr", *adminAddr)
			if err := admin.ListenAndServe(); !errors.Is(err, nethttp.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
		defer admin.Shutdown(context.Background())
	}

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		// Stop receiving signal notifications as soon as possible.
		stop()
	}

	logger.Info("shutting down")
	return nil
}

// echoHandler sends every message back to its sender.
func echoHandler(logger *slog.Logger) *http.WebSocketHandler {
	return &http.WebSocketHandler{
		Ready: func(c *http.Conn, data any) {
			logger.Info("echo session opened", "conn_id", c.ID(), "remote", c.RemoteAddr().String())
		},
		Data: func(c *http.Conn, flags byte, payload []byte, data any) bool {
			return c.WebSocketWrite(websocket.Opcode(flags&0x0f), payload) == nil
		},
		Close: func(c *http.Conn, data any) {
			logger.Info("echo session closed", "conn_id", c.ID())
		},
	}
}

// adminHandler reports the listening ports and the effective options.
func adminHandler(engine *http.Engine, options *http.Options) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/debug/ports", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ports := engine.Ports()
		names := make([]string, len(ports))
		for i, port := range ports {
			names[i] = port.String()
		}
		writeJSON(w, names)
	})

	mux.HandleFunc("/debug/options", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		values := make(map[string]string)
		for _, name := range options.Names() {
			if value, ok := engine.Option(name); ok {
				values[name] = value
			}
		}
		writeJSON(w, values)
	})

	return otelhttp.NewHandler(mux, "admin")
}

func writeJSON(w nethttp.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusInternalServerError)
	}
}
