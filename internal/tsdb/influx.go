// Package tsdb mirrors energy readings into InfluxDB for long-range dashboards.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"buildingops/internal/config"
	"buildingops/internal/models"
	"buildingops/internal/utils"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurement    = "energy"
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushInterval  = 10 * time.Second
)

// ErrDisabled is returned by Connect when no InfluxDB is configured
var ErrDisabled = errors.New("influx mirror disabled")

// Writer sends energy points through the non-blocking write API.
// Safe for concurrent use.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

func Connect(ctx context.Context, cfg config.InfluxConfig, logger *slog.Logger) (*Writer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flushInterval.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influx ping: server not healthy")
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   utils.Component(logger, "tsdb"),
	}
	go w.drainErrors(w.writeAPI.Errors())
	w.logger.Info("TSDB: influx mirror ready", "url", cfg.URL, "bucket", cfg.Bucket)
	return w, nil
}

func (w *Writer) drainErrors(errs <-chan error) {
	for err := range errs {
		w.logger.Warn("TSDB: write failed", "error", err)
	}
}

// WriteEnergy queues r for the next batch.
func (w *Writer) WriteEnergy(r models.EnergyReading) {
	w.writeAPI.WritePoint(energyPoint(r))
}

// Close flushes pending points and releases the client
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

func energyPoint(r models.EnergyReading) *write.Point {
	fields := map[string]interface{}{"value_wh": r.ValueWh}
	if r.Voltage != nil {
		fields["voltage"] = *r.Voltage
	}
	if r.Current != nil {
		fields["current"] = *r.Current
	}
	return write.NewPoint(measurement, map[string]string{"device_id": r.DeviceID}, fields, r.Timestamp)
}
