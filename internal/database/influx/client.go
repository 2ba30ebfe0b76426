// Package influx writes decoy state as InfluxDB time series so share counts
// and hashrate can be graphed per cycle and worker.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/cryptodecoy/internal/messaging"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// Measurement names
const (
	MeasurementState  = "decoy_state"
	MeasurementEvents = "decoy_events"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client and checks its health
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(10_000))

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "influx_health",
			"failed to check InfluxDB health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, errors.New(errors.ErrorTypeStorage, "influx_health",
			"InfluxDB health check failed").WithContext("message", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// WriteSnapshot queues a decoy_state point. Writes are batched; call
// Flush to force them out.
func (c *Client) WriteSnapshot(worker string, snap telemetry.Snapshot) {
	c.writeAPI.WritePoint(SnapshotPoint(worker, snap))
}

// WriteEvent queues a decoy_events point
func (c *Client) WriteEvent(m messaging.BeaconMessage) {
	c.writeAPI.WritePoint(EventPoint(m))
}

// SnapshotPoint builds the decoy_state point for a snapshot
func SnapshotPoint(worker string, snap telemetry.Snapshot) *write.Point {
	tags := map[string]string{
		"cycle_id": snap.CycleID,
		"stage":    string(snap.Stage),
		"worker":   worker,
	}

	fields := map[string]interface{}{
		"stage_index":     snap.StageIndex,
		"shares_found":    snap.SharesFound,
		"shares_accepted": snap.SharesAccepted,
		"shares_rejected": snap.SharesRejected,
		"hashrate":        snap.Hashrate,
	}

	ts := snap.TakenAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementState, tags, fields, ts)
}

// EventPoint builds the decoy_events point for a mirrored event
func EventPoint(m messaging.BeaconMessage) *write.Point {
	tags := map[string]string{
		"source":   m.Source,
		"kind":     m.Kind,
		"severity": m.Severity,
	}

	fields := map[string]interface{}{
		"message": m.Message,
		"count":   1,
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementEvents, tags, fields, ts)
}

// SharesFound returns the highest shares_found seen for a cycle in the
// last duration
func (c *Client) SharesFound(ctx context.Context, cycleID string, duration time.Duration) (int64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r.cycle_id == "%s")
		|> filter(fn: (r) => r._field == "shares_found")
		|> group()
		|> max()
	`, c.bucket, duration.String(), MeasurementState, cycleID)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeStorage, "influx_query", "failed to query shares")
	}
	defer func() { _ = result.Close() }()

	var found int64
	if result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			found = v
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}
	return found, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
