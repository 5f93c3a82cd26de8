package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jeffsasaki/robokassa-order-processor/logging"
	"github.com/jeffsasaki/robokassa-order-processor/metrics"
	"github.com/jeffsasaki/robokassa-order-processor/models"
	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
)

// maxAllocAttempts bounds how often Create draws a new id after losing it
// to a concurrent insert.
const maxAllocAttempts = 5

// Service drives the order lifecycle against a Store.
type Service struct {
	store    Store
	merchant robokassa.Merchant
}

func NewService(store Store, merchant robokassa.Merchant) *Service {
	return &Service{store: store, merchant: merchant}
}

// CreateRequest is the input for Create. ID is optional; the store
// assigns one when empty.
type CreateRequest struct {
	ID          string
	Amount      string
	Description string
	ExtraParams models.ExtraParams
}

// Create validates and stores a new order in status created. A
// caller-assigned id that is already taken fails with ErrAlreadyExists;
// the existing order is never touched.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Order, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, &ValidationError{Field: "amount", Message: "not a decimal number"}
	}
	order := &models.Order{
		ID:          strings.TrimSpace(req.ID),
		Amount:      amount,
		Description: strings.TrimSpace(req.Description),
		Status:      models.StatusCreated,
		ExtraParams: req.ExtraParams.Clone(),
	}
	if err := validate(order); err != nil {
		return nil, err
	}

	if err := s.insert(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrdersCreatedTotal.Inc()
	logging.L(ctx).Info("order created", "order_id", order.ID, "amount", order.OutSum())
	return s.store.Get(ctx, order.ID)
}

// RequestPayment signs a redirect to the gateway for an existing order
// and moves it from created to pending. Re-requesting for a pending order
// issues a fresh URL; a paid order is refused with ErrAlreadyPaid.
func (s *Service) RequestPayment(ctx context.Context, id string) (string, *models.Order, error) {
	var paymentURL string
	order, err := s.store.UpdateIf(ctx, id, func(o *models.Order) error {
		if err := validate(o); err != nil {
			return err
		}
		if o.Status == models.StatusPaid {
			return ErrAlreadyPaid
		}
		paymentURL = s.merchant.PaymentURL(o)
		o.Status = models.StatusPending
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	metrics.PaymentURLsTotal.Inc()
	logging.L(ctx).Info("payment url issued", "order_id", order.ID, "out_sum", order.OutSum())
	return paymentURL, order, nil
}

// Confirm applies an authenticated result notice. The order becomes paid
// whatever its previous state; a notice for an unknown id creates a bare
// paid record. Repeating a confirmation is harmless and refreshes the
// recorded gateway data.
func (s *Service) Confirm(ctx context.Context, notice robokassa.ResultNotice) (*models.Order, error) {
	logger := logging.L(ctx).With("order_id", notice.InvID)
	if !s.merchant.VerifyNotice(notice) {
		metrics.ResultNoticesTotal.WithLabelValues("rejected").Inc()
		logger.Warn("result notice rejected")
		return nil, ErrSignatureMismatch
	}

	var blind bool
	order, err := s.store.CreateOrUpdate(ctx, notice.InvID, func(o *models.Order, exists bool) error {
		o.Status = models.StatusPaid
		if !exists {
			blind = true
			return nil
		}
		if !o.Amount.IsZero() && o.OutSum() != notice.OutSum {
			logger.Warn("result notice amount differs from order",
				"order_amount", o.OutSum(), "out_sum", notice.OutSum)
		}
		o.GatewayData = o.GatewayData.Merge(notice.GatewayData())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm order %s: %w", notice.InvID, err)
	}

	if blind {
		metrics.ResultNoticesTotal.WithLabelValues("blind").Inc()
		logger.Warn("payment confirmed for unknown order")
	} else {
		metrics.ResultNoticesTotal.WithLabelValues("confirmed").Inc()
		logger.Info("payment confirmed", "out_sum", notice.OutSum)
	}
	return order, nil
}

// Lookup is the display lookup used by the redirect outcome pages. A
// missing order yields a transient record in status unknown; nothing is
// stored.
func (s *Service) Lookup(ctx context.Context, id string) *models.Order {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.L(ctx).Error("order lookup failed", "order_id", id, "error", err)
		}
		return &models.Order{ID: id, Status: models.StatusUnknown}
	}
	return order
}

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

// insert stores order, allocating an id when it has none. An allocated id
// can still be claimed by a concurrent caller-assigned create, so those
// collisions draw a fresh id.
func (s *Service) insert(ctx context.Context, order *models.Order) error {
	if order.ID != "" {
		if err := s.store.Insert(ctx, order); err != nil {
			return fmt.Errorf("store order %s: %w", order.ID, err)
		}
		return nil
	}

	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		id, err := s.store.NextID(ctx)
		if err != nil {
			return fmt.Errorf("allocate order id: %w", err)
		}
		order.ID = id
		err = s.store.Insert(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("store order %s: %w", id, err)
		}
	}
	return fmt.Errorf("allocate order id: %w", ErrAlreadyExists)
}

func (s *Service) List(ctx context.Context) ([]*models.Order, error) {
	return s.store.List(ctx)
}

// SeedDemoOrders stores the two demo orders the sandbox shop starts with.
// Orders that already exist, e.g. from a previous run against the same
// database, are left as they are.
func (s *Service) SeedDemoOrders(ctx context.Context, logger *slog.Logger) error {
	seeded := 0
	for _, o := range demoOrders() {
		err := s.store.Insert(ctx, o)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed order %s: %w", o.ID, err)
		}
		seeded++
	}
	logger.Info("demo orders seeded", "count", seeded)
	return nil
}

func demoOrders() []*models.Order {
	return []*models.Order{
		{
			ID:          "1001",
			Amount:      decimal.RequireFromString("100.00"),
			Description: "Basic test order",
			Status:      models.StatusCreated,
			ExtraParams: models.ExtraParams{"user": "1", "product": "basic"},
		},
		{
			ID:          "1002",
			Amount:      decimal.RequireFromString("250.50"),
			Description: "Premium subscription",
			Status:      models.StatusCreated,
			ExtraParams: models.ExtraParams{"user": "2", "product": "premium"},
		},
	}
}

func validate(o *models.Order) error {
	if !o.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if o.Description == "" {
		return &ValidationError{Field: "description", Message: "required"}
	}
	return nil
}
