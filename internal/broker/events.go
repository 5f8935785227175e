package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"

	"release-tracker/internal/models"
	"release-tracker/internal/util"
)

// EventPublisher publishes pipeline events: alerts and run summaries on the
// alerts topic, raw records on the intake topic. Implements the pipeline's
// AlertPublisher.
type EventPublisher struct {
	alerts *Producer
	intake *Producer
}

// NewEventPublisher creates a publisher over the two topics. Either producer
// may be nil when a deployment only uses one side.
func NewEventPublisher(alerts, intake *Producer) *EventPublisher {
	return &EventPublisher{alerts: alerts, intake: intake}
}

// PublishStatusChanged publishes a status-transition alert keyed by identity
// key, so downstream dispatchers see one release's transitions in order.
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error {
	return ep.alerts.PublishEvent(ctx, event.IdentityKey, event)
}

// PublishRunSummary publishes a batch run summary
func (ep *EventPublisher) PublishRunSummary(ctx context.Context, event *models.RunSummaryEvent) error {
	return ep.alerts.PublishEvent(ctx, event.RunID, event)
}

// PublishRawRecord puts a source record on the intake topic, keyed by the
// record's identity key
func (ep *EventPublisher) PublishRawRecord(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
	event := &models.RawRecordEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRawRecord,
			Timestamp: time.Now().UTC(),
		},
		Source: src,
		Record: record,
	}

	sku := record.SKU
	if sku == "" {
		sku = record.StyleCode
	}
	key := models.MakeIdentityKey(sku, src.RetailerID)
	return ep.intake.PublishEvent(ctx, key, event)
}

// Ingestor is the piece of the pipeline the intake consumer feeds
type Ingestor interface {
	IngestRecord(ctx context.Context, src models.SourceContext, record models.RawRecord) (models.ItemResult, error)
}

// ProcessedEventStore remembers which event IDs have already been applied
type ProcessedEventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// IntakeHandler consumes raw-record events from the intake topic and runs
// them through the ingestion pipeline. Kafka delivers at least once, so each
// event ID is checked against the processed-events table before it is
// applied.
type IntakeHandler struct {
	ingestor Ingestor
	dedupe   ProcessedEventStore
	logger   *zap.Logger
}

// NewIntakeHandler creates a handler over the pipeline and dedupe store
func NewIntakeHandler(ingestor Ingestor, dedupe ProcessedEventStore) *IntakeHandler {
	return &IntakeHandler{
		ingestor: ingestor,
		dedupe:   dedupe,
		logger:   util.GetLogger(),
	}
}

// HandleMessage processes one intake message. Undecodable messages and
// unexpected event types are committed away rather than redelivered forever.
func (h *IntakeHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		h.logger.Error("Dropping undecodable intake message",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return nil
	}

	if base.EventType != models.EventTypeRawRecord {
		h.logger.Warn("Unexpected event type on intake topic",
			zap.String("event_type", base.EventType))
		return nil
	}

	var event models.RawRecordEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Dropping malformed raw-record event",
			zap.String("event_id", base.EventID),
			zap.Error(err))
		return nil
	}

	processed, err := h.dedupe.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
	}
	if processed {
		h.logger.Debug("Skipping already-processed event",
			zap.String("event_id", event.EventID))
		return nil
	}

	item, err := h.ingestor.IngestRecord(ctx, event.Source, event.Record)
	if err != nil {
		// neither applied nor journaled: leave the offset uncommitted so the
		// broker redelivers the record
		return fmt.Errorf("record for event %s not applied: %w", event.EventID, err)
	}
	if item.Outcome == models.ItemRejected {
		// store-failed rejections are already in the journal; marking the
		// event keeps the redelivery from double-journaling them
		h.logger.Warn("Intake record rejected",
			zap.String("event_id", event.EventID),
			zap.String("identity_key", item.IdentityKey),
			zap.String("reason", item.Reason))
	}

	if err := h.dedupe.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", event.EventID, err)
	}
	return nil
}
