package orders

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

const firstInvID = 1000

// MemoryStore is an in-memory order store for tests and development mode.
// Nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	seq    int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
		seq:    firstInvID - 1,
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) Insert(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.orders[order.ID]; taken {
		return ErrAlreadyExists
	}
	cp := order.Clone()
	now := m.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.orders[cp.ID] = cp
	return nil
}

func (m *MemoryStore) UpdateIf(_ context.Context, id string, fn MutateFunc) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	keepImmutable(next, cur)
	next.UpdatedAt = m.now().UTC()
	m.orders[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) CreateOrUpdate(_ context.Context, id string, fn UpsertFunc) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	cur, exists := m.orders[id]
	var next *models.Order
	if exists {
		next = cur.Clone()
	} else {
		next = &models.Order{ID: id, CreatedAt: now}
	}
	if err := fn(next, exists); err != nil {
		return nil, err
	}
	next.ID = id
	if exists {
		keepImmutable(next, cur)
	}
	next.UpdatedAt = now
	m.orders[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		result = append(result, o.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// NextID allocates the next free numeric invoice id, skipping ids already
// taken by caller-assigned orders.
func (m *MemoryStore) NextID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		m.seq++
		id := strconv.FormatInt(m.seq, 10)
		if _, taken := m.orders[id]; !taken {
			return id, nil
		}
	}
}

// keepImmutable restores the fields fixed at creation, matching what
// PostgresStore persists on update.
func keepImmutable(next, cur *models.Order) {
	next.ID = cur.ID
	next.Amount = cur.Amount
	next.Description = cur.Description
	next.ExtraParams = cur.ExtraParams.Clone()
	next.CreatedAt = cur.CreatedAt
}

var _ Store = (*MemoryStore)(nil)
