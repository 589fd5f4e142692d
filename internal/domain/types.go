package domain

import "time"

// OrderStatus enumerates the lifecycle states of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus enumerates the settlement states of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	// PaymentStatusRefunded is recorded by back-office tooling when captured
	// funds are returned; no service transition produces it.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates how a buyer settles an order.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

// GemCategory classifies a gem for GST purposes.
type GemCategory string

const (
	GemCategoryRoughUnworked GemCategory = "rough_unworked"
	GemCategoryCutPolished   GemCategory = "cut_polished"
	GemCategoryRoughDiamonds GemCategory = "rough_diamonds"
	GemCategoryCutDiamonds   GemCategory = "cut_diamonds"
)

// Gem is the inventory view of a listed gemstone. Prices are rupees with two
// decimal places; listed prices are GST inclusive.
type Gem struct {
	ID                string
	SellerID          string
	Name              string
	Category          GemCategory
	ImageURL          string
	Price             float64
	AvailableQuantity int64
	SoldQuantity      int64
	Active            bool
	UpdatedAt         time.Time
}

// OrderLineItem snapshots a purchased gem at checkout time so later catalog
// edits do not rewrite history.
type OrderLineItem struct {
	GemID          string
	SellerID       string
	Name           string
	Category       GemCategory
	ImageURL       string
	UnitPrice      float64
	Quantity       int64
	ItemTotal      float64
	PriceBeforeTax float64
	GSTRate        float64
	GSTAmount      float64
}

// OrderTotals aggregates the monetary summary of an order. Subtotal is the
// pre-GST base, Total the GST-inclusive amount actually charged.
type OrderTotals struct {
	Subtotal float64
	Tax      float64
	Total    float64
}

// TaxBreakdownEntry reports the taxable base and tax collected at one rate.
type TaxBreakdownEntry struct {
	Rate          float64
	TaxableAmount float64
	TaxAmount     float64
}

// TaxSummary is the order-level GST computation result.
type TaxSummary struct {
	Subtotal  float64
	TotalTax  float64
	Total     float64
	Breakdown []TaxBreakdownEntry
}

// ShippingAddress is the delivery address captured at checkout.
type ShippingAddress struct {
	FullName string
	Line1    string
	Line2    string
	City     string
	State    string
	Pincode  string
	Phone    string
}

// PaymentRecord tracks the provider-side identifiers attached to an order.
type PaymentRecord struct {
	ProviderOrderID   string
	ProviderPaymentID string
	AmountPaise       int64
	VerifiedAt        *time.Time
}

// Order is the marketplace order aggregate.
type Order struct {
	ID               string
	OrderNumber      string
	BuyerID          string
	Items            []OrderLineItem
	Totals           OrderTotals
	TaxBreakdown     []TaxBreakdownEntry
	ShippingAddress  ShippingAddress
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	Payment          PaymentRecord
	Status           OrderStatus
	TrackingNumber   string
	ExpectedDelivery *time.Time
	CancelReason     string
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SellerIDs returns the distinct seller IDs present on the order's items.
func (o Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	var ids []string
	for _, item := range o.Items {
		if item.SellerID == "" {
			continue
		}
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// ContainsSeller reports whether any line item belongs to the given seller.
func (o Order) ContainsSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// ItemsForSeller returns only the line items sold by the given seller.
func (o Order) ItemsForSeller(sellerID string) []OrderLineItem {
	var items []OrderLineItem
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			items = append(items, item)
		}
	}
	return items
}

// Terminal reports whether the order status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Cart holds the gems a buyer intends to purchase.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem is a single gem plus quantity in a cart.
type CartItem struct {
	GemID    string
	Quantity int64
}

// SellerStats aggregates a seller's order counts and revenue by status.
type SellerStats struct {
	TotalOrders      int64
	PendingOrders    int64
	ProcessingOrders int64
	ShippedOrders    int64
	DeliveredOrders  int64
	CancelledOrders  int64
	TotalRevenue     float64
}

// SystemHealthCheck describes the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	LatencyMS int64
	Error     string
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// Pagination carries limit/cursor inputs for list queries.
type Pagination struct {
	Limit  int
	Cursor string
}

// CursorPage wraps a page of results with the cursor for the next page.
type CursorPage[T any] struct {
	Items      []T
	NextCursor string
}
