// Package observability provides structured logging, tracing and HTTP
// server metrics shared by the plugin, the Cerbos client and the demo
// server.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	zapLogger, err := observability.NewZapLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger := observability.FromZap(zapLogger)
//	defer logger.Sync()
//
//	logger.Info("cerbos client initialized",
//	    observability.String("target", "localhost:3593"),
//	)
//
// Request, trace and span IDs stored with ContextWithRequestID,
// ContextWithTraceID and ContextWithSpanID are attached by WithContext.
//
// # Tracing
//
// NewTracer configures an OpenTelemetry provider with an OTLP gRPC exporter.
// When tracing is disabled the global provider is left untouched.
//
// # Metrics
//
// NewMetrics owns a Prometheus registry with request counters, latency and
// size histograms labelled by gin route pattern. Other collectors, such as
// the plugin's, register on Registry so one /metrics endpoint serves both.
package observability
