package robokassa

import "github.com/jeffsasaki/robokassa-order-processor/models"

// Merchant holds the shop credentials. Password1 signs outbound requests,
// Password2 verifies inbound result notices.
type Merchant struct {
	Login     string
	Password1 string
	Password2 string
	IsTest    bool
}

// PaymentURL signs a redirect for order. The order must already be
// validated.
func (m Merchant) PaymentURL(order *models.Order) string {
	return BuildPaymentURL(PaymentRequest{
		MerchantLogin: m.Login,
		Password1:     m.Password1,
		OutSum:        order.OutSum(),
		InvID:         order.ID,
		Description:   order.Description,
		ExtraParams:   order.ExtraParams,
		IsTest:        m.IsTest,
	})
}

// VerifyNotice checks a result notice with Password2.
func (m Merchant) VerifyNotice(n ResultNotice) bool {
	return n.Verify(m.Password2)
}
