package robokassa

import (
	"net/url"
	"strings"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

// ResultNotice is the server-to-server confirmation posted to ResultURL.
type ResultNotice struct {
	OutSum         string
	InvID          string
	SignatureValue string
	ExtraParams    models.ExtraParams
}

// ParseResultNotice reads a result notice from form values.
func ParseResultNotice(form url.Values) ResultNotice {
	return ResultNotice{
		OutSum:         form.Get("OutSum"),
		InvID:          form.Get("InvId"),
		SignatureValue: form.Get("SignatureValue"),
		ExtraParams:    ExtraParamsFromValues(form),
	}
}

// ExtraParamsFromValues collects every Shp_* field with the prefix
// stripped. Only the first value of a repeated field is kept.
func ExtraParamsFromValues(form url.Values) models.ExtraParams {
	extra := models.ExtraParams{}
	for k, vs := range form {
		if !strings.HasPrefix(k, models.ShpPrefix) || len(vs) == 0 {
			continue
		}
		extra[strings.TrimPrefix(k, models.ShpPrefix)] = vs[0]
	}
	return extra
}

// VerifyResult checks a result notice signature:
// OutSum:InvId:Password2[:Shp_...]. Malformed input is reported as false.
func VerifyResult(outSum, invID, password2, signature string, extra models.ExtraParams) bool {
	if outSum == "" || invID == "" || password2 == "" {
		return false
	}
	return Verify([]string{outSum, invID, password2}, extra, signature)
}

// Verify checks the notice against password2.
func (n ResultNotice) Verify(password2 string) bool {
	return VerifyResult(n.OutSum, n.InvID, password2, n.SignatureValue, n.ExtraParams)
}

// Ack is the body the gateway expects to stop retrying: "OK" followed by
// the invoice id.
func (n ResultNotice) Ack() string {
	return "OK" + n.InvID
}

// GatewayData returns the raw fields to record on the order.
func (n ResultNotice) GatewayData() models.GatewayData {
	data := models.GatewayData{"OutSum": n.OutSum}
	for k, v := range n.ExtraParams {
		data[models.ShpPrefix+k] = v
	}
	return data
}

// Update converts the notice into a queue message.
func (n ResultNotice) Update() models.PaymentStatusUpdate {
	return models.PaymentStatusUpdate{
		OrderID:        n.InvID,
		PaymentStatus:  models.StatusPaid,
		OutSum:         n.OutSum,
		SignatureValue: n.SignatureValue,
		Shp:            n.ExtraParams.Clone(),
	}
}

// NoticeFromUpdate is the inverse of ResultNotice.Update.
func NoticeFromUpdate(u models.PaymentStatusUpdate) ResultNotice {
	return ResultNotice{
		OutSum:         u.OutSum,
		InvID:          u.OrderID,
		SignatureValue: u.SignatureValue,
		ExtraParams:    u.Shp.Clone(),
	}
}
