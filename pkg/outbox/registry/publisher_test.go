package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	"github.com/angelmondragon/atelier-backend/pkg/outbox"
	"github.com/angelmondragon/atelier-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	batchID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.MetalPurchaseRecordedEvent{
		BatchID:   batchID,
		MetalType: enums.MetalGold18K,
		Grams:     decimal.RequireFromString("100"),
		UnitPrice: decimal.RequireFromString("45"),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventMetalPurchaseRecorded,
		AggregateType: enums.AggregateMetalBatch,
		AggregateID:   batchID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "inventory-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.MetalPurchaseRecordedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.BatchID != batchID || !payload.UnitPrice.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope incomplete: %+v", resolved.Envelope)
	}
}

func TestEventRegistryResolveConsumedEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	payloadBytes := mustMarshal(t, payloads.MetalConsumedEvent{
		ConsumptionID: uuid.New(),
		OrderID:       uuid.New(),
		Method:        enums.CostingFIFO,
		Lines:         []payloads.MetalConsumedLine{{BatchID: uuid.New(), Grams: decimal.NewFromInt(5)}},
	})
	event := models.OutboxEvent{
		EventType:     enums.EventMetalConsumed,
		AggregateType: enums.AggregateConsumption,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := resolved.Payload.(*payloads.MetalConsumedEvent)
	if len(payload.Lines) != 1 || payload.Method != enums.CostingFIFO {
		t.Fatalf("payload mismatch %+v", payload)
	}
}

func TestEventRegistryRejectsInvalidRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("batch_archived"),
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventMetalConsumed,
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventMetalPurchaseRecorded,
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventMetalPurchaseRecorded,
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventMetalPurchaseRecorded,
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected error for missing topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{InventoryTopic: "inventory-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestEventRegistryRejectsUnknownEnvelopeVersion(t *testing.T) {
	reg := newTestEventRegistry(t)
	raw, err := json.Marshal(outbox.PayloadEnvelope{Version: 2, EventID: uuid.NewString(), Data: []byte(`{}`)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	_, err = reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventMetalConsumed,
		AggregateType: enums.AggregateConsumption,
		AggregateID:   uuid.New(),
		Payload:       raw,
	})
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryTopicsAreDistinct(t *testing.T) {
	topics := newTestEventRegistry(t).Topics()
	if len(topics) != 1 || topics[0] != "inventory-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}
