// Package orders holds order records and enforces the payment lifecycle
// created -> pending -> paid.
package orders

import (
	"context"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

// MutateFunc edits an order in place inside an atomic update. Returning an
// error aborts the update and leaves the stored record untouched.
type MutateFunc func(o *models.Order) error

// UpsertFunc is MutateFunc for CreateOrUpdate. exists is false when o is a
// fresh record carrying only the id.
type UpsertFunc func(o *models.Order, exists bool) error

// Store persists orders. UpdateIf and CreateOrUpdate must be atomic per
// order id: concurrent calls for the same id are serialized.
type Store interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	// Insert stores a new order. It fails with ErrAlreadyExists and leaves
	// the stored record untouched when the id is taken.
	Insert(ctx context.Context, order *models.Order) error
	UpdateIf(ctx context.Context, id string, fn MutateFunc) (*models.Order, error)
	CreateOrUpdate(ctx context.Context, id string, fn UpsertFunc) (*models.Order, error)
	List(ctx context.Context) ([]*models.Order, error)
	NextID(ctx context.Context) (string, error)
}
