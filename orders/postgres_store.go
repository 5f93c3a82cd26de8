package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

// maxUpsertAttempts bounds retries when two blind confirmations race to
// insert the same id.
const maxUpsertAttempts = 3

const maxIDProbes = 100

const orderColumns = `id, amount, description, status, extra_params, gateway_data, created_at, updated_at`

// PostgresStore persists orders in PostgreSQL. Atomic updates take a row
// lock with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) Insert(ctx context.Context, o *models.Order) error {
	extra, gateway, err := marshalMaps(o)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (id, amount, description, status, extra_params, gateway_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, nullAmount(o.Amount), o.Description, string(o.Status), extra, gateway,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresStore) UpdateIf(ctx context.Context, id string, fn MutateFunc) (*models.Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := lockOrder(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := updateOrder(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (p *PostgresStore) CreateOrUpdate(ctx context.Context, id string, fn UpsertFunc) (*models.Order, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		o, retry, err := p.createOrUpdateOnce(ctx, id, fn)
		if err != nil {
			return nil, err
		}
		if !retry {
			return o, nil
		}
	}
	return nil, fmt.Errorf("orders: upsert %s: concurrent insert did not settle", id)
}

func (p *PostgresStore) createOrUpdateOnce(ctx context.Context, id string, fn UpsertFunc) (*models.Order, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := lockOrder(ctx, tx, id)
	switch {
	case err == nil:
		next := cur.Clone()
		if err := fn(next, true); err != nil {
			return nil, false, err
		}
		if err := updateOrder(ctx, tx, next); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return next, false, nil

	case errors.Is(err, sql.ErrNoRows):
		next := &models.Order{ID: id}
		if err := fn(next, false); err != nil {
			return nil, false, err
		}
		next.ID = id
		extra, gateway, err := marshalMaps(next)
		if err != nil {
			return nil, false, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, amount, description, status, extra_params, gateway_data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			next.ID, nullAmount(next.Amount), next.Description, string(next.Status), extra, gateway,
		)
		if err != nil {
			return nil, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			// Lost the race to another insert; retry and take its row lock.
			return nil, true, nil
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return next, false, nil

	default:
		return nil, false, err
	}
}

func (p *PostgresStore) List(ctx context.Context) ([]*models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// NextID draws from order_inv_id_seq, skipping values already used as
// caller-assigned ids.
func (p *PostgresStore) NextID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDProbes; attempt++ {
		var (
			id    int64
			taken bool
		)
		err := p.db.QueryRowContext(ctx, `
			SELECT s.n, EXISTS (SELECT 1 FROM orders WHERE id = s.n::text)
			FROM (SELECT nextval('order_inv_id_seq') AS n) s`).Scan(&id, &taken)
		if err != nil {
			return "", err
		}
		if !taken {
			return strconv.FormatInt(id, 10), nil
		}
	}
	return "", fmt.Errorf("orders: no free invoice id after %d probes", maxIDProbes)
}

// Ping lets the health check probe the database.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func lockOrder(ctx context.Context, tx *sql.Tx, id string) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

// updateOrder writes the mutable columns only; id, amount, description and
// extra params are fixed at creation.
func updateOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	gateway, err := json.Marshal(nonNilGateway(o.GatewayData))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, gateway_data = $2, updated_at = NOW()
		WHERE id = $3`,
		string(o.Status), gateway, o.ID,
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(sc scanner) (*models.Order, error) {
	o := &models.Order{}
	var (
		amount  decimal.NullDecimal
		status  string
		extra   []byte
		gateway []byte
	)
	if err := sc.Scan(&o.ID, &amount, &o.Description, &status, &extra, &gateway, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if amount.Valid {
		o.Amount = amount.Decimal
	}
	o.Status = models.Status(status)
	if err := unmarshalMap(extra, &o.ExtraParams); err != nil {
		return nil, fmt.Errorf("orders: decode extra_params for %s: %w", o.ID, err)
	}
	if err := unmarshalMap(gateway, &o.GatewayData); err != nil {
		return nil, fmt.Errorf("orders: decode gateway_data for %s: %w", o.ID, err)
	}
	return o, nil
}

func unmarshalMap[M ~map[string]string](data []byte, dst *M) error {
	if len(data) == 0 {
		return nil
	}
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}

func marshalMaps(o *models.Order) (extra, gateway []byte, err error) {
	extraParams := o.ExtraParams
	if extraParams == nil {
		extraParams = models.ExtraParams{}
	}
	if extra, err = json.Marshal(extraParams); err != nil {
		return nil, nil, err
	}
	if gateway, err = json.Marshal(nonNilGateway(o.GatewayData)); err != nil {
		return nil, nil, err
	}
	return extra, gateway, nil
}

func nonNilGateway(d models.GatewayData) models.GatewayData {
	if d == nil {
		return models.GatewayData{}
	}
	return d
}

// nullAmount sends the amount as text so NUMERIC keeps the scale it was
// created with. A zero amount is a record without one.
func nullAmount(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: models.FormatAmount(d), Valid: true}
}

var _ Store = (*PostgresStore)(nil)
