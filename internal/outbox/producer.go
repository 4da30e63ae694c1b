package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/logging"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// producer per event metrics
	producerEventsPublishedCounter   = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="published"}`)
	producerEventsMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="max_attempts_reached"}`)
	producerEventsRescheduledCounter = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="rescheduled"}`)
)

// Producer drains the payment_event outbox into Kafka for the back office.
// Events are appended in the same breath as the terminal transition, so a
// transition is never lost even when the broker is down at that moment.
type Producer struct {
	repo               *db.PaymentEventRepository
	writer             *kafka.Writer
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo *db.PaymentEventRepository, writer *kafka.Writer, cfg config.OutboxProducer, logger *slog.Logger) *Producer {
	pollingIntervalMs := cfg.PollingIntervalMs
	if pollingIntervalMs <= 0 {
		pollingIntervalMs = defaultPollingIntervalMs
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	rescheduleDelayMs := cfg.RescheduleDelayMs
	if rescheduleDelayMs <= 0 {
		rescheduleDelayMs = defaultRetryPublishDelayMs
	}
	maxPublishAttempts := cfg.MaxPublishAttempts
	if maxPublishAttempts <= 0 {
		maxPublishAttempts = defaultMaxPublishAttempts
	}

	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(pollingIntervalMs) * time.Millisecond,
		fetchSize:          fetchSize,
		retryDelay:         time.Duration(rescheduleDelayMs) * time.Millisecond,
		maxPublishAttempts: maxPublishAttempts,
		logger:             logger,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping outbox producer")
				return
			}
		}
	}()
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()

	// set runId as a correlation id for all logs in scope
	ctx = logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished events", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Publishing payment events", "count", len(events))

	kafkaMessages := toKafkaMessages(events)

	writeErr := p.writer.WriteMessages(ctx, kafkaMessages...)
	if writeErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", writeErr)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()

	for _, event := range events {
		eventCtx := logging.AppendCtx(ctx, slog.String("id", event.ID.String()))

		event.PublishAttempts++

		if writeErr != nil {
			errMsg := writeErr.Error()
			event.Error = &errMsg

			if event.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(eventCtx, "Max publish attempts reached for payment event")
				event.ScheduledAt = nil

				producerEventsMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(event.PublishAttempts) * p.retryDelay)
				event.ScheduledAt = &scheduledAt

				producerEventsRescheduledCounter.Inc()
			}
		} else {
			event.ScheduledAt = nil
			event.PublishedAt = &now
			event.Error = nil

			producerEventsPublishedCounter.Inc()
		}

		if err := p.repo.Update(eventCtx, tx, event); err != nil {
			p.logger.ErrorContext(eventCtx, "Error updating payment event", "error", err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)

		producerErrorUpdateCounter.Inc()
	} else {
		producerSuccessCounter.Inc()
	}

	producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func toKafkaMessages(events []*db.PaymentEventEntity) []kafka.Message {
	var kafkaMessages []kafka.Message

	for _, entity := range events {
		msg := kafka.Message{
			// reference as key keeps per-payment ordering
			Key:   []byte(entity.Reference),
			Value: []byte(entity.Payload),
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(entity.EventType)},
			},
		}

		kafkaMessages = append(kafkaMessages, msg)
	}
	return kafkaMessages
}
