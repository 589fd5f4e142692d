package services

import (
	"context"
	"time"

	"github.com/ratnakart/api/internal/domain"
)

// Re-exported domain types so handlers depend on the service package alone.
type (
	Order             = domain.Order
	OrderLineItem     = domain.OrderLineItem
	OrderStatus       = domain.OrderStatus
	PaymentMethod     = domain.PaymentMethod
	PaymentStatus     = domain.PaymentStatus
	Gem               = domain.Gem
	GemCategory       = domain.GemCategory
	ShippingAddress   = domain.ShippingAddress
	TaxSummary        = domain.TaxSummary
	TaxBreakdownEntry = domain.TaxBreakdownEntry
	SellerStats       = domain.SellerStats
	Pagination        = domain.Pagination
)

// Actor identifies the caller of a service operation together with the roles
// forwarded by the gateway.
type Actor struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.HasRole("admin") }

// IsSeller reports whether the actor carries the seller role.
func (a Actor) IsSeller() bool { return a.HasRole("seller") }

// CheckoutItem is one gem plus quantity in a checkout request.
type CheckoutItem struct {
	GemID    string
	Quantity int64
}

// CheckoutCommand creates an order from the buyer's selection.
type CheckoutCommand struct {
	BuyerID         string
	Items           []CheckoutItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
}

// GetOrderQuery loads one order with visibility enforcement.
type GetOrderQuery struct {
	OrderID string
	Actor   Actor
}

// BuyerOrdersQuery lists a buyer's own orders.
type BuyerOrdersQuery struct {
	BuyerID    string
	Status     *OrderStatus
	Pagination Pagination
}

// SellerOrdersQuery lists orders containing the seller's gems.
type SellerOrdersQuery struct {
	SellerID   string
	Status     *OrderStatus
	Pagination Pagination
}

// SellerStatsQuery aggregates a seller's order counts and revenue.
type SellerStatsQuery struct {
	SellerID string
}

// OrderStatusTransitionCommand moves an order along its lifecycle.
type OrderStatusTransitionCommand struct {
	OrderID        string
	Actor          Actor
	NextStatus     OrderStatus
	TrackingNumber string
}

// CancelOrderCommand cancels an order on behalf of its buyer.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// OrderService owns order creation and lifecycle management.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	ListBuyerOrders(ctx context.Context, query BuyerOrdersQuery) (domain.CursorPage[Order], error)
	ListSellerOrders(ctx context.Context, query SellerOrdersQuery) (domain.CursorPage[Order], error)
	SellerStats(ctx context.Context, query SellerStatsQuery) (SellerStats, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreatePaymentIntentCommand opens a provider order for an online payment.
type CreatePaymentIntentCommand struct {
	OrderID string
	Actor   Actor
}

// PaymentIntent is what the storefront needs to launch provider checkout.
type PaymentIntent struct {
	OrderID         string
	OrderNumber     string
	ProviderOrderID string
	KeyID           string
	AmountPaise     int64
	Currency        string
}

// VerifyPaymentCommand carries the client checkout callback fields.
type VerifyPaymentCommand struct {
	Actor             Actor
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// WebhookCommand carries a raw provider webhook delivery.
type WebhookCommand struct {
	Payload   []byte
	Signature string
}

// PaymentStatusQuery polls the payment state of an order.
type PaymentStatusQuery struct {
	OrderID string
	Actor   Actor
}

// PaymentStatusView is returned to polling storefront clients.
type PaymentStatusView struct {
	OrderID       string
	OrderNumber   string
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	AmountPaise   int64
}

// PaymentService reconciles provider payments with marketplace orders.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error)
	VerifyCallback(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) error
	PaymentStatus(ctx context.Context, query PaymentStatusQuery) (PaymentStatusView, error)
	// PurgeStalePayments removes abandoned online orders across all buyers
	// and returns how many were deleted.
	PurgeStalePayments(ctx context.Context, olderThan time.Time) (int, error)
}

// OrderEvent describes a lifecycle event published to the event stream.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	BuyerID     string
	Metadata    map[string]string
	OccurredAt  time.Time
}

// Order event types emitted by the services.
const (
	OrderEventCreated       = "order.created"
	OrderEventPaid          = "order.paid"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventCancelled     = "order.cancelled"
	OrderEventDebitShort    = "order.stock_debit_failed"
)

// OrderEventPublisher delivers order events to the configured stream. A nil
// publisher disables eventing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// SystemService exposes operational readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}
