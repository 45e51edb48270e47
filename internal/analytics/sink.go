// Package analytics is the write sink telemetry events are appended to.
// The relational analytics store's full schema (sessions, billing
// periods, partitioned request tables) is out of scope; this package
// only provides the narrow append operation the request pipeline's
// ACCOUNTING phase fire-and-forgets into.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TelemetryEvent is the opaque-to-downstream record the pipeline emits
// after every request, successful or not.
type TelemetryEvent struct {
	TenantID     string
	CredentialID string
	Provider     string
	Model        string
	Endpoint     string
	StatusCode   int
	Success      bool
	InputTokens  int
	OutputTokens int
	TotalCost    float64
	LatencyMS    int64
	ClientIP     string
	UserAgent    string
	ErrorKind    string
	Metadata     map[string]any
}

// Sink is the narrow interface the pipeline depends on. Implementations
// must never block the response path and must swallow their own errors
// past a bounded deadline — callers only log what Sink returns.
type Sink interface {
	RecordRequest(ctx context.Context, ev TelemetryEvent) error
}

// requestEventRow is the single flat table this sink appends to,
// deliberately not the partitioned schema the analytics store excludes.
type requestEventRow struct {
	ID           uint `gorm:"primaryKey"`
	TenantID     string
	CredentialID string
	Provider     string
	Model        string
	Endpoint     string
	StatusCode   int
	Success      bool
	InputTokens  int
	OutputTokens int
	TotalCost    float64
	LatencyMS    int64
	ClientIP     string
	UserAgent    string
	ErrorKind    string
	Metadata     datatypes.JSON
	CreatedAt    time.Time
}

func (requestEventRow) TableName() string { return "request_events" }

// GormSink appends telemetry events to a Postgres table via gorm.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&requestEventRow{}); err != nil {
		return nil, err
	}
	return &GormSink{db: db}, nil
}

func (s *GormSink) RecordRequest(ctx context.Context, ev TelemetryEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	row := requestEventRow{
		TenantID:     ev.TenantID,
		CredentialID: ev.CredentialID,
		Provider:     ev.Provider,
		Model:        ev.Model,
		Endpoint:     ev.Endpoint,
		StatusCode:   ev.StatusCode,
		Success:      ev.Success,
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		TotalCost:    ev.TotalCost,
		LatencyMS:    ev.LatencyMS,
		ClientIP:     ev.ClientIP,
		UserAgent:    ev.UserAgent,
		ErrorKind:    ev.ErrorKind,
		Metadata:     meta,
		CreatedAt:    time.Now(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// NoopSink is used when Postgres is unconfigured ("lite mode"); it logs
// at debug level instead of persisting, so the rest of the pipeline never
// has to special-case a nil sink.
type NoopSink struct {
	logger *zap.Logger
}

func NewNoopSink(logger *zap.Logger) *NoopSink {
	return &NoopSink{logger: logger}
}

func (s *NoopSink) RecordRequest(ctx context.Context, ev TelemetryEvent) error {
	s.logger.Debug("analytics: lite mode, dropping telemetry event",
		zap.String("tenant_id", ev.TenantID), zap.String("provider", ev.Provider))
	return nil
}
