package repositories

import (
	"context"
	"time"

	"github.com/ratnakart/api/internal/domain"
)

// RepositoryError lets services classify storage failures without depending
// on the backing driver.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order list queries. SellerID matches orders that
// contain at least one item sold by that seller.
type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	Status     *domain.OrderStatus
	Pagination domain.Pagination
}

// StalePendingFilter selects abandoned online orders eligible for purge.
// Orders with a completed payment are never matched.
type StalePendingFilter struct {
	BuyerID   string
	OlderThan time.Time
}

// OrderRepository persists marketplace orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// SetPaymentIntent records the provider order created for an online
	// payment attempt.
	SetPaymentIntent(ctx context.Context, orderID string, providerOrderID string, amountPaise int64) error
	// SetPaymentFailed marks the payment failed. When onlyIfPending is set
	// the write is skipped once the payment has completed.
	SetPaymentFailed(ctx context.Context, orderID string, onlyIfPending bool) error
	// MarkPaid transitions the payment to completed and the order to
	// processing in one transaction. It returns true when this call made
	// the transition and false when the payment was already completed.
	MarkPaid(ctx context.Context, orderID string, payment domain.PaymentRecord, at time.Time) (bool, error)
	// DeleteStalePending removes matching abandoned online orders and
	// returns how many were deleted.
	DeleteStalePending(ctx context.Context, filter StalePendingFilter) (int, error)
}

// GemRepository exposes the gem catalog and its stock ledger.
type GemRepository interface {
	Get(ctx context.Context, gemID string) (domain.Gem, error)
	// ReserveAndDebit atomically checks availability and moves qty units
	// from available to sold. Insufficient stock is a conflict error and
	// leaves the record untouched.
	ReserveAndDebit(ctx context.Context, gemID string, qty int64) error
	// Restore returns qty units to available stock and reduces sold,
	// clamping sold at zero.
	Restore(ctx context.Context, gemID string, qty int64) error
}

// CartRepository stores buyer carts. Orders only ever clear them.
type CartRepository interface {
	Clear(ctx context.Context, userID string) error
}

// CounterConfig adjusts counter behaviour such as step size and bounds.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Registry bundles the repositories handed to the service layer.
type Registry struct {
	Orders   OrderRepository
	Gems     GemRepository
	Carts    CartRepository
	Counters CounterRepository
	Health   HealthRepository
}
