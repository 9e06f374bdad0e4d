// Package influx provides time-series metrics for the Strata engine:
// difficulty history, reward issuance, and vote weight over time.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
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

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
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

// Engine metrics

// WriteDifficultyMetric writes a difficulty change. Values are whole-token
// floats for dashboard readability; the exact base-unit value lives in the
// event archive.
func (c *Client) WriteDifficultyMetric(oldDifficulty, newDifficulty float64, origin string, at time.Time) {
	tags := map[string]string{
		"origin": origin,
	}

	fields := map[string]interface{}{
		"old_difficulty": oldDifficulty,
		"new_difficulty": newDifficulty,
		"count":          1,
	}

	point := write.NewPoint("difficulty", tags, fields, at)
	c.writeAPI.WritePoint(point)
}

// WriteRewardMetric writes a reward claim measurement.
func (c *Client) WriteRewardMetric(owner string, sessionID uint64, stake, reward float64, at time.Time) {
	tags := map[string]string{
		"owner":      owner,
		"session_id": fmt.Sprintf("%d", sessionID),
	}

	fields := map[string]interface{}{
		"stake":  stake,
		"reward": reward,
		"count":  1,
	}

	point := write.NewPoint("rewards", tags, fields, at)
	c.writeAPI.WritePoint(point)
}

// WriteSessionMetric writes a session lifecycle measurement.
func (c *Client) WriteSessionMetric(owner string, sessionID uint64, stake float64, kind string, at time.Time) {
	tags := map[string]string{
		"owner": owner,
		"kind":  kind,
	}

	fields := map[string]interface{}{
		"session_id": int64(sessionID),
		"stake":      stake,
		"count":      1,
	}

	point := write.NewPoint("sessions", tags, fields, at)
	c.writeAPI.WritePoint(point)
}

// WriteVoteMetric writes a vote weight measurement.
func (c *Client) WriteVoteMetric(proposalID uint64, voter string, support int, weight float64, at time.Time) {
	tags := map[string]string{
		"proposal_id": fmt.Sprintf("%d", proposalID),
		"support":     fmt.Sprintf("%d", support),
	}

	fields := map[string]interface{}{
		"weight": weight,
		"count":  1,
	}

	point := write.NewPoint("votes", tags, fields, at)
	c.writeAPI.WritePoint(point)
}

// Query methods

// GetDifficultyHistory retrieves the difficulty trace over a duration.
func (c *Client) GetDifficultyHistory(ctx context.Context, duration time.Duration) ([]DifficultyPoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "difficulty")
		|> filter(fn: (r) => r._field == "new_difficulty")
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query difficulty history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []DifficultyPoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, DifficultyPoint{
				Time:       record.Time(),
				Difficulty: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// GetRewardTotal retrieves the total rewards issued over a duration.
func (c *Client) GetRewardTotal(ctx context.Context, duration time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "rewards")
		|> filter(fn: (r) => r._field == "reward")
		|> group()
		|> sum()
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query reward total: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	if result.Next() {
		record := result.Record()
		if total, ok := record.Value().(float64); ok {
			return total, nil
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return 0, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// DifficultyPoint represents the difficulty at a point in time
type DifficultyPoint struct {
	Time       time.Time `json:"time"`
	Difficulty float64   `json:"difficulty"`
}
