package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	// MeasurementDeviceState holds one point per device state change.
	MeasurementDeviceState = "fah_device_state"

	// MeasurementSession holds periodic SysAP session counters.
	MeasurementSession = "fah_session"
)

// WriteDeviceState records the numeric and boolean values of a device state.
//
// Booleans are stored as 0 or 1 so they chart alongside numeric values.
// Strings and other types are skipped. Nothing is written when no field
// survives. The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - kind: Device kind (e.g., "light", "sensor")
//   - key: Device key (e.g., "ABB700D12345/ch0003")
//   - state: The device state snapshot
//
// Example:
//
//	client.WriteDeviceState("light", "ABB5000DIM/ch0000",
//	    map[string]interface{}{"on": true, "brightness": 60})
func (c *Client) WriteDeviceState(kind, key string, state map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	fields := NumericFields(state)
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"kind":   kind,
			"device": key,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionStats records the SysAP session counters.
//
// Parameters:
//   - host: SysAP host the session talks to
//   - connected: Whether the session is currently connected
//   - updatesReceived: Update messages received since start
//   - updatesDropped: Update messages that failed to decrypt or parse
//   - reconnects: Reconnects since start
func (c *Client) WriteSessionStats(host string, connected bool, updatesReceived, updatesDropped, reconnects uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementSession,
		map[string]string{
			"host": host,
		},
		map[string]interface{}{
			"connected":        boolField(connected),
			"updates_received": updatesReceived,
			"updates_dropped":  updatesDropped,
			"reconnects":       reconnects,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// NumericFields keeps the values of state that InfluxDB can chart:
// integers and floats as they are, booleans as 0 or 1.
func NumericFields(state map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(state))
	for k, v := range state {
		switch val := v.(type) {
		case bool:
			fields[k] = boolField(val)
		case int, int64, float64:
			fields[k] = val
		}
	}
	return fields
}

func boolField(b bool) int {
	if b {
		return 1
	}
	return 0
}
