package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

// NotificationWorker consumes order events and writes user notifications.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker.
func NewNotificationWorker(consumer *broker.Consumer, notifications store.NotificationStore) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPlaced(func(ctx context.Context, event *models.OrderPlacedEvent) error {
		return notifications.CreateNotification(ctx, &models.Notification{
			ID:        uuid.NewString(),
			UserID:    event.UserID,
			Type:      "order",
			Title:     "Order placed",
			Message:   fmt.Sprintf("Your order %s has been placed. Total: %.2f", event.OrderNumber, event.Total),
			CreatedAt: time.Now(),
		})
	})

	eventHandler.OnOrderCancelled(func(ctx context.Context, event *models.OrderCancelledEvent) error {
		return notifications.CreateNotification(ctx, &models.Notification{
			ID:        uuid.NewString(),
			UserID:    event.UserID,
			Type:      "order",
			Title:     "Order cancelled",
			Message:   fmt.Sprintf("Your order %s has been cancelled.", event.OrderNumber),
			CreatedAt: time.Now(),
		})
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
