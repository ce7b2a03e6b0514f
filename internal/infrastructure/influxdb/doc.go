// Package influxdb records numeric device telemetry in InfluxDB v2.
//
// Every merge is turned into "device_metrics" points, one per numeric or
// boolean field in the merged delta, tagged with device_id and field. Writes
// go through the client library's non-blocking batched write API; write
// errors arrive asynchronously on the SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	fanout.Add(influxdb.NewTelemetry(client))
package influxdb
