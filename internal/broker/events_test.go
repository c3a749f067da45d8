package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlerRoutesOrderPlaced(t *testing.T) {
	eh := NewEventHandler()

	var got *models.OrderPlacedEvent
	eh.OnOrderPlaced(func(_ context.Context, event *models.OrderPlacedEvent) error {
		got = event
		return nil
	})

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     "order-1",
		OrderNumber: "ORD-1",
		UserID:      "user-1",
		Total:       37.5,
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	err = eh.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-1", got.OrderID)
	assert.InDelta(t, 37.5, got.Total, 1e-9)
}

func TestEventHandlerRoutesOrderCancelled(t *testing.T) {
	eh := NewEventHandler()

	var got *models.OrderCancelledEvent
	eh.OnOrderCancelled(func(_ context.Context, event *models.OrderCancelledEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(&models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-2",
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: "order-2",
		Reason:  "cancelled by customer",
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, "order-2", got.OrderID)
}

func TestEventHandlerIgnoresUnknownTypes(t *testing.T) {
	eh := NewEventHandler()
	eh.OnOrderPlaced(func(_ context.Context, _ *models.OrderPlacedEvent) error {
		t.Fatal("should not be called")
		return nil
	})

	payload, _ := json.Marshal(models.BaseEvent{EventID: "evt-3", EventType: "SOMETHING_ELSE"})
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
}

func TestEventHandlerRejectsMalformedPayload(t *testing.T) {
	eh := NewEventHandler()
	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
