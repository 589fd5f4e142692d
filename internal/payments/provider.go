package payments

import (
	"context"
	"errors"
)

// Status enumerates the normalised payment states reported by the provider.
type Status string

const (
	// StatusCreated indicates the payment exists but the customer has not acted yet.
	StatusCreated Status = "created"
	// StatusAuthorized indicates the amount is held but not yet captured.
	StatusAuthorized Status = "authorized"
	// StatusCaptured indicates the amount has been captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the provider reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// Settled reports whether the status represents money secured on our side.
func (s Status) Settled() bool {
	return s == StatusCaptured || s == StatusAuthorized
}

// ErrProviderUnavailable is returned when the provider cannot be reached or
// rejects the request for operational reasons.
var ErrProviderUnavailable = errors.New("payments: provider unavailable")

// ErrPaymentNotFound is returned when the provider has no record of the payment.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// OrderRequest captures the payload required to open a provider order.
// Amounts are in paise, the provider's smallest currency unit.
type OrderRequest struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// ProviderOrder is the provider side order the storefront checkout launches
// against.
type ProviderOrder struct {
	ID          string
	AmountPaise int64
	Currency    string
	Receipt     string
	Status      string
}

// PaymentDetails normalises provider payment fields for reconciliation.
type PaymentDetails struct {
	PaymentID       string
	ProviderOrderID string
	AmountPaise     int64
	Currency        string
	Status          Status
	Method          string
}

// Provider defines the contract the payment gateway adapter implements.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
}
