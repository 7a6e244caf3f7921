package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"lockdown/internal/config"
	"lockdown/internal/storage"
)

// StartKafka consumes raw auth-log lines from a topic and pushes each
// message through the same parse-and-insert path as file ingestion, so a
// replayed topic deduplicates the same way a re-read file does.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, p *Pipeline, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			res, err := p.IngestReader(ctx, strings.NewReader(string(m.Value)), 0)
			if err != nil {
				if errors.Is(err, storage.ErrUnavailable) && logger != nil {
					logger.Error("kafka ingest store error", "err", err)
				}
				continue
			}
			if logger != nil && res.Inserted > 0 {
				logger.Debug("kafka message ingested",
					"inserted", res.Inserted,
					"duplicates", res.Duplicates,
					"skipped", res.Skipped,
				)
			}
		}
	}()
}
