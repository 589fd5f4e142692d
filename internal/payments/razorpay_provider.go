package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/ratnakart/api/internal/platform/textutil"
)

// orderAPI and paymentAPI mirror the subset of the Razorpay SDK the adapter
// uses so tests can substitute stubs.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProvider adapts the Razorpay REST API to the Provider contract.
type RazorpayProvider struct {
	orders   orderAPI
	payments paymentAPI
}

// NewRazorpayProvider builds a provider over live Razorpay credentials.
func NewRazorpayProvider(keyID, keySecret string) (*RazorpayProvider, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, errors.New("payments: razorpay key id and secret are required")
	}
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayProvider{
		orders:   client.Order,
		payments: client.Payment,
	}, nil
}

// CreateOrder opens a Razorpay order for the given amount. The receipt and
// notes tie the provider order back to the marketplace order.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error) {
	if err := ctx.Err(); err != nil {
		return ProviderOrder{}, err
	}
	if req.AmountPaise <= 0 {
		return ProviderOrder{}, fmt.Errorf("payments: order amount must be positive, got %d", req.AmountPaise)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	data := map[string]interface{}{
		"amount":   req.AmountPaise,
		"currency": currency,
	}
	if req.Receipt != "" {
		data["receipt"] = req.Receipt
	}
	if cleaned := textutil.NormalizeStringMap(req.Notes); len(cleaned) > 0 {
		notes := make(map[string]interface{}, len(cleaned))
		for k, v := range cleaned {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := p.orders.Create(data, nil)
	if err != nil {
		return ProviderOrder{}, fmt.Errorf("%w: create order: %v", ErrProviderUnavailable, err)
	}

	order := ProviderOrder{
		ID:          stringField(body, "id"),
		AmountPaise: int64Field(body, "amount"),
		Currency:    stringField(body, "currency"),
		Receipt:     stringField(body, "receipt"),
		Status:      stringField(body, "status"),
	}
	if order.ID == "" {
		return ProviderOrder{}, fmt.Errorf("%w: create order: response missing id", ErrProviderUnavailable)
	}
	return order, nil
}

// FetchPayment loads the provider's view of a payment for verification.
func (p *RazorpayProvider) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	if err := ctx.Err(); err != nil {
		return PaymentDetails{}, err
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return PaymentDetails{}, fmt.Errorf("%w: empty payment id", ErrPaymentNotFound)
	}

	body, err := p.payments.Fetch(id, nil, nil)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
			return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
		}
		return PaymentDetails{}, fmt.Errorf("%w: fetch payment: %v", ErrProviderUnavailable, err)
	}

	details := PaymentDetails{
		PaymentID:       stringField(body, "id"),
		ProviderOrderID: stringField(body, "order_id"),
		AmountPaise:     int64Field(body, "amount"),
		Currency:        stringField(body, "currency"),
		Status:          Status(stringField(body, "status")),
		Method:          stringField(body, "method"),
	}
	if details.PaymentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: fetch payment: response missing id", ErrProviderUnavailable)
	}
	return details, nil
}

func stringField(body map[string]interface{}, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

// int64Field tolerates the number representations the SDK's JSON decoding
// produces.
func int64Field(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
