// Package telemetry provides observability for quanto clients.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Telemetry value that is threaded through
// a context.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # What is recorded
//
// Every command sent to the core produces a "core.call <verb>" span and
// increments core_calls_total{verb,outcome}. Structured errors are counted
// by code, fragment decode failures by fragment and kind, and channel
// failures by transport kind. Loggers carry session_id and verb fields.
//
// Tracing is off by default. Enable it with the stdout exporter for local
// debugging or otlp to send spans to a collector over gRPC.
package telemetry
