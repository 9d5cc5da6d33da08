package bootstrap

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/or-scheduler/cmd/mainconfig"
	appconfig "github.com/wolfman30/or-scheduler/internal/config"
	"github.com/wolfman30/or-scheduler/internal/events"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// BuildEventPublisher picks where booking events go. With Postgres the
// events land in the outbox and, when a queue is configured, the returned
// Deliverer relays them to SQS. Without Postgres a queue URL publishes
// directly. With neither, events stay in memory.
func BuildEventPublisher(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (events.Publisher, *events.Deliverer, error) {
	if logger == nil {
		logger = logging.Default()
	}
	queueURL := ""
	if cfg != nil {
		queueURL = strings.TrimSpace(cfg.BookingEventsQueueURL)
	}

	var sqsPub *events.SQSPublisher
	if queueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		sqsPub = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), queueURL)
	}

	switch {
	case pool != nil:
		outbox := events.NewOutboxStore(pool)
		if sqsPub == nil {
			logger.Warn("booking events queue not configured; events stay in the outbox")
			return outbox, nil, nil
		}
		logger.Info("booking events via outbox", "queue_url", queueURL)
		return outbox, events.NewDeliverer(outbox, sqsPub, logger), nil
	case sqsPub != nil:
		logger.Info("booking events published directly to SQS", "queue_url", queueURL)
		return sqsPub, nil, nil
	default:
		logger.Warn("no event transport configured; keeping booking events in memory")
		return events.NewMemoryPublisher(), nil, nil
	}
}
