// Package stream pushes detection and prediction output onto Redis for live
// consumers (dashboards, downstream notification services). Publishing is
// best-effort: a Redis outage degrades the live feed, never the pipeline.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/fusion"
)

const (
	// ChannelEvents carries shockwave event snapshots.
	ChannelEvents = "traffic.shockwaves"

	// ChannelPredictions carries fused prediction batches.
	ChannelPredictions = "traffic.predictions"

	// latestTTL bounds how long cached snapshots outlive the pipeline.
	latestTTL = 15 * time.Minute
)

// Publisher writes pipeline output to Redis pub/sub channels and keeps the
// latest snapshot per partition in plain keys for poll-style consumers.
type Publisher struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewPublisher creates a publisher on an existing Redis client.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// PublishEvent pushes one event snapshot.
func (p *Publisher) PublishEvent(ctx context.Context, ev *detector.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelEvents, payload).Err(); err != nil {
		return fmt.Errorf("publishing event %s: %w", ev.ID, err)
	}
	return p.rdb.Set(ctx, "traffic:event:"+ev.ID, payload, latestTTL).Err()
}

// predictionBatch is the wire form of one partition's fused predictions.
type predictionBatch struct {
	Partition   string              `json:"partition"`
	GeneratedAt time.Time           `json:"generated_at"`
	Predictions []fusion.Prediction `json:"predictions"`
}

// PublishPredictions pushes one partition's fused predictions.
func (p *Publisher) PublishPredictions(ctx context.Context, partition string, predictions []fusion.Prediction) error {
	payload, err := json.Marshal(predictionBatch{
		Partition:   partition,
		GeneratedAt: time.Now().UTC(),
		Predictions: predictions,
	})
	if err != nil {
		return fmt.Errorf("encoding predictions: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelPredictions, payload).Err(); err != nil {
		return fmt.Errorf("publishing predictions for %s: %w", partition, err)
	}
	return p.rdb.Set(ctx, "traffic:predictions:"+partition, payload, latestTTL).Err()
}
