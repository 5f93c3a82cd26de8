package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/jeffsasaki/robokassa-order-processor/clients"
	"github.com/jeffsasaki/robokassa-order-processor/config"
	"github.com/jeffsasaki/robokassa-order-processor/logging"
	"github.com/jeffsasaki/robokassa-order-processor/metrics"
	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
	"github.com/jeffsasaki/robokassa-order-processor/server"
)

// ResultListener receives the gateway's result notices, verifies them and
// forwards accepted ones to the order processor over the payment_updates
// queue.
type ResultListener struct {
	merchant robokassa.Merchant
	amqp     clients.AmqpClient
	queue    string
}

func NewResultListener(merchant robokassa.Merchant, client clients.AmqpClient, queue string) *ResultListener {
	return &ResultListener{merchant: merchant, amqp: client, queue: queue}
}

func (l *ResultListener) RegisterRoutes(r gin.IRouter) {
	r.POST("/payment/result", l.PaymentResult)
}

// PaymentResult handles POST /payment/result. The gateway only gets its
// OK<InvId> once the update is safely on the queue; anything else makes it
// retry.
func (l *ResultListener) PaymentResult(c *gin.Context) {
	ctx := c.Request.Context()
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}
	notice := robokassa.ParseResultNotice(c.Request.PostForm)

	if !l.merchant.VerifyNotice(notice) {
		metrics.ResultNoticesTotal.WithLabelValues("rejected").Inc()
		logging.L(ctx).Warn("result notice rejected", "order_id", notice.InvID)
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}

	if err := l.publish(ctx, notice); err != nil {
		metrics.QueueMessagesTotal.WithLabelValues("publish", "failed").Inc()
		logging.L(ctx).Error("failed to publish payment update", "order_id", notice.InvID, "error", err)
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	metrics.QueueMessagesTotal.WithLabelValues("publish", "sent").Inc()
	metrics.ResultNoticesTotal.WithLabelValues("forwarded").Inc()
	logging.L(ctx).Info("payment update published", "order_id", notice.InvID, "out_sum", notice.OutSum)

	c.String(http.StatusOK, notice.Ack())
}

func (l *ResultListener) publish(ctx context.Context, notice robokassa.ResultNotice) error {
	body, err := json.Marshal(notice.Update())
	if err != nil {
		return err
	}
	return l.amqp.Publish(ctx, body, l.queue)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("payment service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required")
	}

	amqpClient, err := clients.Dial(cfg.AMQPURL)
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	if err := amqpClient.DeclareQueue(cfg.PaymentUpdatesQueue); err != nil {
		return err
	}

	checks := map[string]server.HealthCheck{"rabbitmq": amqpClient.Ping}
	router := server.NewRouter(logger, cfg.IsProduction(), checks)
	NewResultListener(cfg.Merchant(), amqpClient, cfg.PaymentUpdatesQueue).RegisterRoutes(router)

	logger.Info("payment service configured", "queue", cfg.PaymentUpdatesQueue, "merchant", cfg.MerchantLogin)
	return server.Run(ctx, ":"+cfg.Port, router, logger)
}
