// Package handler consumes on-demand run commands.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dealpool/ingest/internal/ingest"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/rabbitmq"
	"github.com/dealpool/ingest/pkg/v1/commander"
	"github.com/rs/zerolog"
)

// Runner executes ingestion runs.
type Runner interface {
	Run(ctx context.Context, req ingest.RunRequest) (*models.RunReport, error)
}

// Reporter emits finished run reports.
type Reporter interface {
	Emit(ctx context.Context, runReport *models.RunReport) error
}

// RMQHandler handles RMQ run commands.
type RMQHandler struct {
	rmq      *rabbitmq.RabbitMQ
	runner   Runner
	reporter Reporter
	logger   *zerolog.Logger
}

// NewHandler returns new RMQHandler.
func NewHandler(rmq *rabbitmq.RabbitMQ, runner Runner, reporter Reporter, logger *zerolog.Logger) *RMQHandler {
	return &RMQHandler{
		rmq:      rmq,
		runner:   runner,
		reporter: reporter,
		logger:   logger,
	}
}

// Start starts consuming and handling run commands from RMQ.
func (h *RMQHandler) Start(ctx context.Context, queue string) error {
	errorsChan, err := h.rmq.Consume(ctx, queue, func(ctx context.Context, message []byte) error {
		cmd, err := decodeCommand(message)
		if err != nil {
			return err
		}

		h.logger.Debug().
			Str("shop", cmd.Shop).
			Str("category", cmd.Category).
			Msg("run triggered")

		req := ingest.RunRequest{Category: cmd.Category}
		if cmd.Shop != "" {
			req.Shops = []string{cmd.Shop}
		}

		runReport, err := h.runner.Run(ctx, req)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		return h.reporter.Emit(ctx, runReport)
	})
	if err != nil {
		return err
	}

	go func() {
		for err := range errorsChan {
			h.logger.Error().
				Err(err).
				Msg("can't handle message")
		}
	}()

	return nil
}

func decodeCommand(msg []byte) (*commander.RunCommand, error) {
	var cmd commander.RunCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return nil, fmt.Errorf("can't decode run command: %w", err)
	}

	return &cmd, nil
}
