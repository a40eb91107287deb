// Package observability provides OpenTelemetry tracing and metrics for proxy
// invocations and target-source leases.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("orders"))
//	defer tp.Shutdown(ctx)
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("orders"))
//	defer mp.Shutdown(ctx)
//
//	m, err := observability.NewMetrics(observability.Meter("proxykit"))
//	m.RecordInvocation(ctx, "db", "Query", "ok", elapsed)
package observability
