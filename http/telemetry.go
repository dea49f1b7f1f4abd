package http

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/freekieb7/burrow/websocket"
)

const instrumentationName = "github.com/freekieb7/burrow/http"

type telemetry struct {
	tracer trace.Tracer

	accepted    metric.Int64Counter
	active      metric.Int64UpDownCounter
	requests    metric.Int64Counter
	tlsFailures metric.Int64Counter
	wsMessages  metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.accepted, err = meter.Int64Counter("burrow.connections.accepted",
		metric.WithDescription("Connections accepted by all listening ports"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if t.active, err = meter.Int64UpDownCounter("burrow.connections.active",
		metric.WithDescription("Connections currently being served"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if t.requests, err = meter.Int64Counter("burrow.requests",
		metric.WithDescription("Requests served by method and status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if t.tlsFailures, err = meter.Int64Counter("burrow.tls.handshake.failures",
		metric.WithDescription("Failed server side TLS handshakes"),
		metric.WithUnit("{handshake}")); err != nil {
		return nil, err
	}
	if t.wsMessages, err = meter.Int64Counter("burrow.websocket.messages",
		metric.WithDescription("Websocket messages by direction"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *telemetry) connectionAccepted(port ListeningPort) {
	attrs := metric.WithAttributes(
		attribute.Int("server.port", port.Port),
		attribute.Bool("tls", port.TLS),
	)
	t.accepted.Add(context.Background(), 1, attrs)
}

func (t *telemetry) connectionActive(delta int64) {
	t.active.Add(context.Background(), delta)
}

func (t *telemetry) tlsFailure() {
	t.tlsFailures.Add(context.Background(), 1)
}

func (t *telemetry) websocketMessage(op websocket.Opcode, direction string) {
	t.wsMessages.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("opcode", op.String()),
	))
}

func (t *telemetry) startRequest(req *RequestInfo) (context.Context, trace.Span) {
	return t.tracer.Start(context.Background(), req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.Bool("tls", req.TLS),
		),
	)
}

func (t *telemetry) endRequest(ctx context.Context, span trace.Span, method string, status uint16) {
	span.SetAttributes(attribute.Int("http.response.status_code", int(status)))
	if status >= 500 || status == 0 {
		span.SetStatus(codes.Error, StatusText(status))
	}
	span.End()

	t.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.Int("http.response.status_code", int(status)),
	))
}
