package tsdb

import "time"

// WriteValue records one decoded bus value as a knx_value point, tagged by
// group address and DPT. The write is non-blocking; write errors surface
// asynchronously via SetOnError.
func (c *Client) WriteValue(ga, dpt string, value float64) {
	c.WriteValueAt(ga, dpt, value, time.Now())
}

// WriteValueAt is WriteValue with an explicit timestamp, for values whose
// arrival time should be preserved rather than stamped at write time.
func (c *Client) WriteValueAt(ga, dpt string, value float64, at time.Time) {
	c.influx.WritePointWithTime(
		measurement,
		map[string]string{"ga": ga, "dpt": dpt},
		map[string]interface{}{"value": value},
		at,
	)
}
