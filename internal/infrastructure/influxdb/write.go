package influxdb

import (
	"sort"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/relayhub/internal/state"
)

// MeasurementDeviceMetrics is the measurement every telemetry point uses.
const MeasurementDeviceMetrics = "device_metrics"

// PointWriter accepts points for asynchronous delivery.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Telemetry is a state.Observer that writes numeric fields of each merge.
type Telemetry struct {
	writer PointWriter
}

// NewTelemetry creates a telemetry observer writing to w.
func NewTelemetry(w PointWriter) *Telemetry {
	return &Telemetry{writer: w}
}

// OnChange implements state.Observer. Disconnects write nothing.
func (t *Telemetry) OnChange(c state.Change) {
	for _, p := range DevicePoints(c) {
		t.writer.WritePoint(p)
	}
}

// DevicePoints converts the numeric and boolean fields of an update's delta
// into points, sorted by field name. Booleans are written as 0 or 1.
func DevicePoints(c state.Change) []*write.Point {
	if c.Kind != state.ChangeUpdate || len(c.Delta) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Delta))
	for name := range c.Delta {
		names = append(names, name)
	}
	sort.Strings(names)

	var points []*write.Point
	for _, name := range names {
		value, ok := numericValue(c.Delta[name])
		if !ok {
			continue
		}
		points = append(points, write.NewPoint(
			MeasurementDeviceMetrics,
			map[string]string{
				"device_id": c.DeviceID,
				"field":     name,
			},
			map[string]any{"value": value},
			c.At,
		))
	}
	return points
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
