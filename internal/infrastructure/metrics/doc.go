// Package metrics reports dbscope pool and session statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and non-blocking batched writes, and runs a periodic reporter
// that samples:
//
//   - per-engine connection pool statistics (open, in-use, idle, waits)
//   - session manager counters (sessions, commits, rollbacks, errors)
//
// The checked-out-connection gauge is the operational signal that the
// finalization guarantees hold: it returns to baseline after every context,
// cancellation included.
//
// # Usage
//
//	client, err := metrics.Connect(cfg.Metrics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reporter := metrics.NewReporter(client, cfg.GetMetricsInterval())
//	reporter.AddEngine(eng)
//	reporter.SetManagerStats(mgr.Stats)
//	reporter.Start(ctx)
//	defer reporter.Stop()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking; batch errors are delivered via a callback.
package metrics
