// Package telemetry provides observability for catletctl: structured
// logging (zerolog), tracing (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// NewTelemetry installs its logger as zerolog's global logger, so packages log
// through github.com/rs/zerolog/log directly.
//
// # Metrics
//
// Metrics live in a private registry and are exposed by StartMetricsServer
// when enabled:
//
//   - catletctl_reconciles_total{action,state,result}
//   - catletctl_reconcile_duration_seconds{action}
//   - catletctl_operations_tracked_total{step,outcome}
//   - catletctl_operation_duration_seconds{step}
//   - catletctl_progress_events_dropped_total
//   - catletctl_active_operations
//   - catletctl_remote_calls_total{call,result}
//   - catletctl_remote_call_duration_seconds{call}
//   - catletctl_cache_lookups_total{result}
//   - catletctl_errors_total{kind}
//
// A nil *Metrics or *Tracer is a valid no-op, so instrumented code does not
// need to check whether observability was configured.
package telemetry
