package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated Status = "created"
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	// StatusUnknown is only ever returned for display lookups of missing
	// orders. It is never persisted.
	StatusUnknown Status = "unknown"
)

// ShpPrefix namespaces merchant extra parameters on the wire and in the
// signature base.
const ShpPrefix = "Shp_"

// ExtraParams are the merchant-defined Shp_ tags carried through the
// gateway round-trip. Keys are stored without the Shp_ prefix.
type ExtraParams map[string]string

// Keys returns the keys in byte-wise ascending order, the order in which
// they enter the signature.
func (p ExtraParams) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy that does not alias p.
func (p ExtraParams) Clone() ExtraParams {
	if p == nil {
		return nil
	}
	out := make(ExtraParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// GatewayData records raw confirmation fields received from the gateway,
// keyed by their wire names (OutSum, Shp_user, ...).
type GatewayData map[string]string

// Merge copies src into d, overwriting keys present in both.
func (d GatewayData) Merge(src GatewayData) GatewayData {
	if d == nil {
		d = make(GatewayData, len(src))
	}
	for k, v := range src {
		d[k] = v
	}
	return d
}

type Order struct {
	ID          string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Status      Status          `json:"status"`
	ExtraParams ExtraParams     `json:"shp,omitempty"`
	GatewayData GatewayData     `json:"robokassa,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OutSum renders the amount the way it is sent to and signed for the
// gateway: plain decimal notation, keeping the scale the amount was
// created with ("100.00" stays "100.00").
func (o *Order) OutSum() string {
	return FormatAmount(o.Amount)
}

// MarshalJSON renders the amount as OutSum text so its scale survives
// ("100.00" rather than "100"). A missing amount or timestamp is omitted,
// as on unknown lookups.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	out := struct {
		alias
		Amount    string     `json:"amount,omitempty"`
		CreatedAt *time.Time `json:"created_at,omitempty"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
	}{alias: alias(o)}
	if !o.Amount.IsZero() {
		out.Amount = FormatAmount(o.Amount)
	}
	if !o.CreatedAt.IsZero() {
		out.CreatedAt = &o.CreatedAt
	}
	if !o.UpdatedAt.IsZero() {
		out.UpdatedAt = &o.UpdatedAt
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	cp := *o
	cp.ExtraParams = o.ExtraParams.Clone()
	if o.GatewayData != nil {
		cp.GatewayData = GatewayData{}.Merge(o.GatewayData)
	}
	return &cp
}

// FormatAmount renders d without exponent notation, preserving its scale.
func FormatAmount(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// PaymentStatusUpdate is the payment_updates queue message. It carries the
// raw result notice so the consumer can verify it again before applying.
type PaymentStatusUpdate struct {
	OrderID        string      `json:"order_id"`
	PaymentStatus  Status      `json:"payment_status"`
	OutSum         string      `json:"out_sum"`
	SignatureValue string      `json:"signature_value"`
	Shp            ExtraParams `json:"shp,omitempty"`
}
