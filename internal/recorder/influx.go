package recorder

import (
	"context"
	"fmt"
	"time"

	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const influxTimeout = 10 * time.Second

// InfluxRecorder writes ticks and bars as points to an InfluxDB bucket.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxRecorder connects to InfluxDB and checks its health.
func NewInfluxRecorder(url, token, org, bucket string) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), influxTimeout)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy: %+v", health)
	}

	logger.Info("influx recorder opened", zap.String("url", url), zap.String("bucket", bucket))
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		org:      org,
		bucket:   bucket,
	}, nil
}

// TickPoint converts a tick event to its line-protocol point.
func TickPoint(evt *TickEvent) *write.Point {
	return influxdb2.NewPoint(
		"ticks",
		map[string]string{
			"symbol":   evt.Symbol,
			"type":     evt.Type,
			"interval": evt.Interval,
			"run_id":   evt.RunID,
		},
		map[string]interface{}{
			"price":      evt.Price,
			"last_close": evt.LastClose,
			"change_pct": evt.ChangePct,
			"bars":       evt.Bars,
		},
		evt.FetchedAt,
	)
}

// BarPoint converts a bar to a point. Missing volume is left out of the fields.
func BarPoint(symbol, interval string, b model.OHLCV) *write.Point {
	fields := map[string]interface{}{
		"open":  b.Open,
		"high":  b.High,
		"low":   b.Low,
		"close": b.Close,
	}
	if b.Volume.Valid {
		fields["volume"] = b.Volume.Float64
	}
	return influxdb2.NewPoint(
		"bars",
		map[string]string{"symbol": symbol, "interval": interval},
		fields,
		b.Time,
	)
}

func (r *InfluxRecorder) RecordTick(evt *TickEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), influxTimeout)
	defer cancel()
	return r.writeAPI.WritePoint(ctx, TickPoint(evt))
}

// RecordBars relies on InfluxDB overwriting points with identical series and time.
func (r *InfluxRecorder) RecordBars(symbol, interval string, bars model.Series) error {
	if len(bars) == 0 {
		return nil
	}
	points := make([]*write.Point, len(bars))
	for i, b := range bars {
		points[i] = BarPoint(symbol, interval, b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), influxTimeout)
	defer cancel()
	return r.writeAPI.WritePoint(ctx, points...)
}

// Prune deletes every point older than cutoff. InfluxDB does not report a count.
func (r *InfluxRecorder) Prune(cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), influxTimeout)
	defer cancel()
	for _, m := range []string{"ticks", "bars"} {
		err := r.client.DeleteAPI().DeleteWithName(ctx, r.org, r.bucket, time.Unix(0, 0), cutoff, fmt.Sprintf(`_measurement="%s"`, m))
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", m, err)
		}
	}
	return 0, nil
}

func (r *InfluxRecorder) Close() error {
	logger.Info("closing influx recorder")
	r.client.Close()
	return nil
}
