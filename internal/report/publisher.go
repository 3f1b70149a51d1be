// Package report emits finished run reports to collaborators.
package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/rs/zerolog"
)

//go:generate mockery --name Publisher --filename publisher.go

// Publisher publishes messages to a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message []byte) error
}

// Emitter publishes run reports as JSON and logs a summary line.
type Emitter struct {
	publisher  Publisher
	routingKey string
	logger     *zerolog.Logger
}

// NewEmitter returns new Emitter.
func NewEmitter(publisher Publisher, routingKey string, logger *zerolog.Logger) *Emitter {
	return &Emitter{
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Emit publishes the report. Publishing failures are logged, not escalated:
// a finished run stays finished even when alerting is down.
func (e *Emitter) Emit(ctx context.Context, runReport *models.RunReport) error {
	message, err := json.Marshal(runReport)
	if err != nil {
		return fmt.Errorf("can't marshal run report: %w", err)
	}

	if err := e.publisher.Publish(ctx, e.routingKey, message); err != nil {
		e.logger.Error().
			Err(err).
			Str("runId", runReport.RunID).
			Msg("can't publish run report")
		return nil
	}

	totals := runReport.Totals()
	e.logger.Info().
		Str("runId", runReport.RunID).
		Str("status", string(runReport.Status)).
		Int32("fetched", totals.Fetched).
		Int32("failed", totals.Failed).
		Msg("run report published")

	return nil
}
