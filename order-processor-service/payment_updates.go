package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jeffsasaki/robokassa-order-processor/logging"
	"github.com/jeffsasaki/robokassa-order-processor/metrics"
	"github.com/jeffsasaki/robokassa-order-processor/models"
	"github.com/jeffsasaki/robokassa-order-processor/orders"
	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
)

// errDiscard marks a message that can never succeed and must not be
// requeued.
var errDiscard = errors.New("discard message")

// PaymentUpdateListener applies result notices forwarded by payment-service
// over the payment_updates queue. Every notice is verified again before the
// order is touched.
type PaymentUpdateListener struct {
	orders *orders.Service
	logger *slog.Logger
}

func NewPaymentUpdateListener(svc *orders.Service, logger *slog.Logger) *PaymentUpdateListener {
	return &PaymentUpdateListener{orders: svc, logger: logger}
}

// Handle decodes and applies one message body.
func (l *PaymentUpdateListener) Handle(ctx context.Context, body []byte) error {
	var update models.PaymentStatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("%w: decode: %v", errDiscard, err)
	}
	if update.PaymentStatus != models.StatusPaid {
		return fmt.Errorf("%w: unsupported payment status %q", errDiscard, update.PaymentStatus)
	}

	_, err := l.orders.Confirm(ctx, robokassa.NoticeFromUpdate(update))
	if errors.Is(err, orders.ErrSignatureMismatch) {
		return fmt.Errorf("%w: %v", errDiscard, err)
	}
	return err
}

// HandleDelivery acks applied messages, drops poison messages and requeues
// the rest.
func (l *PaymentUpdateListener) HandleDelivery(d amqp.Delivery) {
	ctx := logging.WithLogger(context.Background(), l.logger)
	err := l.Handle(ctx, d.Body)
	switch {
	case err == nil:
		metrics.QueueMessagesTotal.WithLabelValues("consume", "applied").Inc()
		if ackErr := d.Ack(false); ackErr != nil {
			l.logger.Error("ack failed", "error", ackErr)
		}
	case errors.Is(err, errDiscard):
		metrics.QueueMessagesTotal.WithLabelValues("consume", "discarded").Inc()
		l.logger.Warn("discarding payment update", "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			l.logger.Error("nack failed", "error", nackErr)
		}
	default:
		metrics.QueueMessagesTotal.WithLabelValues("consume", "requeued").Inc()
		l.logger.Error("payment update failed, requeueing", "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			l.logger.Error("nack failed", "error", nackErr)
		}
	}
}
