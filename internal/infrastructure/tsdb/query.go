package tsdb

import (
	"context"
	"fmt"
	"time"
)

// ValuePoint is one recorded bus value.
type ValuePoint struct {
	GA    string
	DPT   string
	Value float64
	Time  time.Time
}

// QueryRecent returns the most recently written values for ga, most recent
// first, up to limit entries. Looks back 30 days.
func (c *Client) QueryRecent(ctx context.Context, ga string, limit int) ([]ValuePoint, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 1
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == %q and r.ga == %q and r._field == "value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, c.bucket, measurement, ga, limit)

	result, err := c.influx.QueryAPI().Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var points []ValuePoint
	for result.Next() {
		rec := result.Record()

		value, _ := rec.Value().(float64)
		dpt, _ := rec.ValueByKey("dpt").(string)

		points = append(points, ValuePoint{
			GA:    ga,
			DPT:   dpt,
			Value: value,
			Time:  rec.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, result.Err())
	}
	return points, nil
}
