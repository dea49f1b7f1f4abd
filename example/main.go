package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/freekieb7/burrow/http"
	"github.com/freekieb7/burrow/telemetry"
	"github.com/freekieb7/burrow/validation"
	"github.com/freekieb7/burrow/websocket"
)

const name = "github.com/freekieb7/burrow/example"

var (
	tracer   = otel.Tracer(name)
	meter    = otel.Meter(name)
	logger   = otelslog.NewLogger(name)
	chunkCnt metric.Int64Counter
)

func init() {
	os.Setenv("OTEL_SERVICE_NAME", "burrow-example")
	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment=experimental,service.version=0.0.0")
	os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://0.0.0.0:4317")
	os.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")

	var err error
	chunkCnt, err = meter.Int64Counter("example.chunks",
		metric.WithDescription("The number of chunks sent"),
		metric.WithUnit("{chunk}"))
	if err != nil {
		panic(err)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() (err error) {
	// Handle SIGINT (CTRL+C) gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := shutdown(context.Background()); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	options, err := http.NewOptions(
		"listening_ports", "8080",
		"enable_keep_alive", "yes",
		"websocket_timeout_ms", "60000",
		"enable_websocket_ping_pong", "yes",
	)
	if err != nil {
		return err
	}

	engine, err := http.Start(http.Config{
		Options: options,
		Logger:  logger,
		Callbacks: http.Callbacks{
			EndRequest: func(c *http.Conn, status uint16) {
				logger.Info("request served", "path", c.RequestInfo().Path, "status", status)
			},
		},
	})
	if err != nil {
		return err
	}
	defer engine.Stop()

	engine.Handle("/chunks", chunks, "123456789A123456789B123456789C")
	engine.HandleWebSocket("/websocket", &http.WebSocketHandler{
		Ready: func(c *http.Conn, data any) {
			c.WebSocketWrite(websocket.OpText, []byte("websocket welcome\n"))
		},
		Data: func(c *http.Conn, flags byte, payload []byte, data any) bool {
			if string(payload) == "bye" {
				c.WebSocketWrite(websocket.OpText, []byte("websocket bye\n"))
				return false
			}
			return c.WebSocketWrite(websocket.Opcode(flags&0x0f), payload) == nil
		},
	}, nil)

	// Wait for interruption.
	<-ctx.Done()
	// Stop receiving signal notifications as soon as possible.
	stop()
	return nil
}

// chunks sends growing prefixes of the binding data as separate chunks.
// GET /chunks?count=5
func chunks(c *http.Conn, data any) uint16 {
	ctx, span := tracer.Start(context.Background(), "chunks")
	defer span.End()

	query, _ := url.ParseQuery(c.RequestInfo().Query)
	count := query.Get("count")
	if count == "" {
		count = "10"
	}

	violations := validation.ValidateMap(
		map[string]any{"count": count},
		map[string][]string{"count": {"integer", "min:1", "max:30"}},
	)
	if !violations.IsEmpty() {
		body, _ := violations.MarshalJSON()
		c.WriteResponse(http.StatusBadRequest, "application/json", body)
		return http.StatusBadRequest
	}
	n, _ := strconv.Atoi(count)

	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("Transfer-Encoding", "chunked")
	if err := c.WriteHeader(http.StatusOK, header); err != nil {
		return http.StatusOK
	}

	source := data.(string)
	for i := 1; i <= n; i++ {
		if err := c.SendChunk([]byte(source[:i])); err != nil {
			break
		}
	}

	countAttr := attribute.Int("chunks.count", n)
	span.SetAttributes(countAttr)
	chunkCnt.Add(ctx, int64(n), metric.WithAttributes(countAttr))
	logger.InfoContext(ctx, "chunks sent", "count", n)

	return http.StatusOK
}
