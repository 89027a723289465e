// Package influxdb records free@home telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	fah_device_state  tags kind, device         one point per published state
//	fah_session       tags host                 session counters per health tick
//
// Default tags from WithDefaultTag (the bridge id, for instance) are added
// to every point.
//
// Writes never block. Points are batched by the client library and a failed
// batch is reported to the SetOnError callback wrapped in ErrWriteFailed.
// String values in a device state are not written.
//
// Telemetry is optional: Connect returns ErrDisabled when the configuration
// turns it off, and callers carry on without it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithDefaultTag("bridge", "fah"))
package influxdb
