package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/distflow/backend/internal/infrastructure/config"
)

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// DBTracingPlugin wires otelgorm into GORM and augments its spans with
// rows-affected, table, and slow-query attributes. Query variables are never
// recorded; lot numbers and supplier codes stay out of the trace backend.
type DBTracingPlugin struct {
	cfg    config.TelemetryConfig
	logger *zap.Logger
}

func NewDBTracingPlugin(cfg config.TelemetryConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{cfg: cfg, logger: logger}
}

// Register installs the otelgorm plugin plus timing callbacks on db.
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.cfg.Enabled || !p.cfg.DBTraceEnabled {
		p.logger.Debug("database tracing disabled, skipping otelgorm registration")
		return nil
	}

	plugin := otelgorm.NewPlugin(
		otelgorm.WithDBName("postgresql"),
		otelgorm.WithoutQueryVariables(),
	)
	if err := db.Use(plugin); err != nil {
		return err
	}

	if err := p.registerTimingCallbacks(db); err != nil {
		return err
	}
	if err := p.registerSpanCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("database tracing enabled",
		zap.Duration("slow_query_threshold", p.cfg.DBSlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) registerTimingCallbacks(db *gorm.DB) error {
	before := func(db *gorm.DB) {
		if db.Statement.Context != nil {
			db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
		}
	}

	if err := db.Callback().Create().Before("gorm:create").Register("otel_timing:before_create", before); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register("otel_timing:before_query", before); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("otel_timing:before_update", before); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("otel_timing:before_delete", before); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("otel_timing:before_row", before); err != nil {
		return err
	}
	return db.Callback().Raw().Before("gorm:raw").Register("otel_timing:before_raw", before)
}

func (p *DBTracingPlugin) registerSpanCallbacks(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Register("otel_span:after_create", p.annotateSpan); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("otel_span:after_query", p.annotateSpan); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("otel_span:after_update", p.annotateSpan); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("otel_span:after_delete", p.annotateSpan); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register("otel_span:after_row", p.annotateSpan); err != nil {
		return err
	}
	return db.Callback().Raw().After("gorm:raw").Register("otel_span:after_raw", p.annotateSpan)
}

func (p *DBTracingPlugin) annotateSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// Guarded ledger updates report 0 rows on a lost race; that is an
	// expected outcome, not a span error. Only real errors are recorded.
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		elapsed := time.Since(startTime)
		if p.cfg.DBSlowQueryThresh > 0 && elapsed > p.cfg.DBSlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
