package recorder

import (
	"time"

	"MarketTicker/internal/model"
)

// NoopRecorder is a no-op implementation used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTick(_ *TickEvent) error                { return nil }
func (n *NoopRecorder) RecordBars(_, _ string, _ model.Series) error { return nil }
func (n *NoopRecorder) Prune(_ time.Time) (int64, error)             { return 0, nil }
func (n *NoopRecorder) Close() error                                 { return nil }
