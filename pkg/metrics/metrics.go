package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder writes settlement measurements to InfluxDB. All writes are
// asynchronous and best-effort; instrumentation must never sit on the
// money-moving path.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewRecorder creates a metrics recorder. A nil Recorder is valid and
// discards all measurements, so callers never need to nil-check.
func NewRecorder(cfg Config) *Recorder {
	if cfg.URL == "" {
		return nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// Settlement records the outcome of a settlement operation.
func (r *Recorder) Settlement(ctx context.Context, operation, wallet string, amount string, duration time.Duration, success bool) {
	if r == nil {
		return
	}

	p := influxdb2.NewPointWithMeasurement("settlement").
		AddTag("operation", operation).
		AddTag("success", boolTag(success)).
		AddField("wallet", wallet).
		AddField("amount", amount).
		AddField("duration_ms", duration.Milliseconds()).
		SetTime(time.Now())

	r.writeAPI.WritePoint(p)
}

// Distribution records the outcome of a reward engine run.
func (r *Recorder) Distribution(ctx context.Context, stakers int, totalRewards string, duration time.Duration) {
	if r == nil {
		return
	}

	p := influxdb2.NewPointWithMeasurement("reward_distribution").
		AddField("stakers", stakers).
		AddField("total_rewards", totalRewards).
		AddField("duration_ms", duration.Milliseconds()).
		SetTime(time.Now())

	r.writeAPI.WritePoint(p)
}

// RateLimited records a rejected request.
func (r *Recorder) RateLimited(ctx context.Context, operation string) {
	if r == nil {
		return
	}

	p := influxdb2.NewPointWithMeasurement("rate_limited").
		AddTag("operation", operation).
		AddField("count", 1).
		SetTime(time.Now())

	r.writeAPI.WritePoint(p)
}

// Close flushes pending points and shuts down the client.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
