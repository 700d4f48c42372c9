// Package influxdb is the long-term property history sink.
//
// The state cache keeps a bounded in-memory history per property; this
// package streams the same property changes into InfluxDB so history
// survives restarts and can be queried over arbitrary ranges. It wraps
// the official influxdb-client-go v2 library: writes are non-blocking
// and batched, and async write errors surface through a callback.
//
// The sink is optional. When disabled in configuration, Connect returns
// ErrDisabled and the rest of the system runs unchanged on the
// in-memory rings.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled is expected when the sink is off
//	}
//	sink := influxdb.NewSink(client, states)
//	sink.Run(ctx)
//
// All methods are safe for concurrent use.
package influxdb
