// Package influxdb records kvstore transaction telemetry in InfluxDB 2.x.
//
// Client implements kvdb.Observer: every finished transaction becomes a
// point in the kvstore_transactions measurement, tagged by database,
// kind and outcome. Pool snapshots can be written to kvstore_pool.
//
// Writes are batched and asynchronous, so observing a transaction
// never blocks on the network.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	dbCfg.Observers = append(dbCfg.Observers, client)
package influxdb
