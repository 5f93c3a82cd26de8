package robokassa

import (
	"net/url"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

// PaymentEndpoint is the gateway entry point the buyer is redirected to.
const PaymentEndpoint = "https://auth.robokassa.ru/Merchant/Index.aspx"

// PaymentRequest holds everything needed to sign an outbound redirect.
// OutSum and InvID must be the exact strings the gateway will echo back.
type PaymentRequest struct {
	MerchantLogin string
	Password1     string
	OutSum        string
	InvID         string
	Description   string
	ExtraParams   models.ExtraParams
	IsTest        bool
}

// Signature returns the SignatureValue for the request:
// MerchantLogin:OutSum:InvId:Password1[:Shp_...].
func (r PaymentRequest) Signature() string {
	return Digest([]string{r.MerchantLogin, r.OutSum, r.InvID, r.Password1}, r.ExtraParams)
}

// BuildPaymentURL returns the absolute redirect URL for r. It does not
// validate its input.
func BuildPaymentURL(r PaymentRequest) string {
	q := url.Values{}
	q.Set("MerchantLogin", r.MerchantLogin)
	q.Set("OutSum", r.OutSum)
	q.Set("InvId", r.InvID)
	q.Set("Description", r.Description)
	q.Set("SignatureValue", r.Signature())
	if r.IsTest {
		q.Set("IsTest", "1")
	}
	for k, v := range r.ExtraParams {
		q.Set(models.ShpPrefix+k, v)
	}
	return PaymentEndpoint + "?" + q.Encode()
}
