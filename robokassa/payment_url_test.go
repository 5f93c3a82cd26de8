package robokassa

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

func TestBuildPaymentURL(t *testing.T) {
	raw := BuildPaymentURL(PaymentRequest{
		MerchantLogin: "demo",
		Password1:     "password1",
		OutSum:        "100.00",
		InvID:         "1001",
		Description:   "Basic test order",
		ExtraParams:   models.ExtraParams{"user": "1", "product": "basic"},
		IsTest:        true,
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "auth.robokassa.ru", u.Host)
	assert.Equal(t, "/Merchant/Index.aspx", u.Path)

	q := u.Query()
	assert.Equal(t, "demo", q.Get("MerchantLogin"))
	assert.Equal(t, "100.00", q.Get("OutSum"))
	assert.Equal(t, "1001", q.Get("InvId"))
	assert.Equal(t, "Basic test order", q.Get("Description"))
	assert.Equal(t, "6E438CBB725463664B7D0AFFB78E7168", q.Get("SignatureValue"))
	assert.Equal(t, "1", q.Get("IsTest"))
	assert.Equal(t, "1", q.Get("Shp_user"))
	assert.Equal(t, "basic", q.Get("Shp_product"))
	assert.Len(t, q, 8)
}

func TestBuildPaymentURL_LiveModeOmitsIsTest(t *testing.T) {
	raw := BuildPaymentURL(PaymentRequest{
		MerchantLogin: "demo",
		Password1:     "password1",
		OutSum:        "250.50",
		InvID:         "1002",
		Description:   "Premium",
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	_, hasTest := q["IsTest"]
	assert.False(t, hasTest)
	assert.Equal(t, "85DEE70721BD9494C31DDD98FC35C073", q.Get("SignatureValue"))
	assert.Len(t, q, 5)
}

func TestMerchant_PaymentURLSignsOrderFields(t *testing.T) {
	m := Merchant{Login: "demo", Password1: "password1", Password2: "password2", IsTest: true}
	order := &models.Order{
		ID:          "1001",
		Amount:      mustAmount(t, "100.00"),
		Description: "Basic",
		ExtraParams: models.ExtraParams{"user": "1", "product": "basic"},
	}

	u, err := url.Parse(m.PaymentURL(order))
	require.NoError(t, err)
	assert.Equal(t, "100.00", u.Query().Get("OutSum"))
	assert.Equal(t, "6E438CBB725463664B7D0AFFB78E7168", u.Query().Get("SignatureValue"))
}

func TestCrossDirectionSignatureRejected(t *testing.T) {
	extra := models.ExtraParams{"user": "1", "product": "basic"}
	outbound := PaymentRequest{
		MerchantLogin: "demo",
		Password1:     "password1",
		OutSum:        "100.00",
		InvID:         "1001",
		ExtraParams:   extra,
	}.Signature()

	assert.True(t, Verify([]string{"demo", "100.00", "1001", "password1"}, extra, outbound))
	assert.False(t, VerifyResult("100.00", "1001", "password2", outbound, extra))
	assert.False(t, VerifyResult("100.00", "1001", "password1", outbound, extra))
}
