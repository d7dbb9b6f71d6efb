// Package telemetry installs the OpenTelemetry trace and metric providers.
//
// Packages create spans and instruments through the otel globals;
// New replaces those globals with SDK providers exporting over OTLP.
// When disabled, or when an exporter cannot be created, the globals stay
// no-op and the daemon runs degraded rather than failing.
//
// Tests use NewTestTelemetry, which records spans in memory:
//
//	tel := telemetry.NewTestTelemetry()
//	tel.Install(t)
//	// ... exercise code ...
//	tel.AssertSpanExists(t, "Coordinator.Create")
package telemetry
