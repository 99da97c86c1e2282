// Package archive writes persisted values flagged for logging into InfluxDB.
//
// Writes are non-blocking and batched by the InfluxDB client; failures are
// delivered asynchronously to the callback set with SetOnError.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dokzlo13/lightmeter/internal/config"
)

var (
	// ErrDisabled indicates archiving is disabled in configuration.
	ErrDisabled = errors.New("archive: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("archive: connection failed")

	// ErrNotConnected indicates the client was closed.
	ErrNotConnected = errors.New("archive: not connected")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 // seconds
)

// Client archives values into an InfluxDB bucket.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string

	connected bool
	mu        sync.RWMutex

	onError func(err error)
}

// Connect creates the client and verifies the server is reachable.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:      client,
		writeAPI:    client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		connected:   true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Archive implements store.Archiver. Keys of the form <prefix><Field>_<id>
// are split into field and light tags where possible.
func (c *Client) Archive(key string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewPoint(c.measurement, key, value, at))
}

// NewPoint builds the point written for a persisted value.
func NewPoint(measurement, key string, value float64, at time.Time) *write.Point {
	tags := map[string]string{"key": key}
	if field, id, ok := splitKey(key); ok {
		tags["field"] = field
		tags["light_id"] = id
	}
	return write.NewPoint(measurement, tags, map[string]interface{}{"value": value}, at)
}

var archivedFields = []string{"Runtime_", "Energy_Counter_", "State_"}

// splitKey finds the archived field name in a persisted key. The prefix is
// whatever precedes the earliest field name; the rest is the light id.
func splitKey(key string) (field, id string, ok bool) {
	at := -1
	for _, f := range archivedFields {
		if i := strings.Index(key, f); i >= 0 && (at < 0 || i < at) {
			at, field = i, f
		}
	}
	if at < 0 || at+len(field) == len(key) {
		return "", "", false
	}
	return strings.TrimSuffix(field, "_"), key[at+len(field):], true
}

// SetOnError sets a callback invoked for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Flush forces pending writes out. No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
