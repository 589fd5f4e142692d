package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/repositories"
)

// Sentinel errors returned by the order service.
var (
	ErrOrderInvalidInput      = errors.New("order: invalid input")
	ErrOrderNotFound          = errors.New("order: not found")
	ErrOrderConflict          = errors.New("order: conflict")
	ErrOrderUnavailable       = errors.New("order: storage unavailable")
	ErrOrderForbidden         = errors.New("order: forbidden")
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	ErrItemUnavailable        = errors.New("order: item unavailable")
	ErrInsufficientStock      = errors.New("order: insufficient stock")
)

// sellerStateTransitions lists the lifecycle edges a seller may take. The
// delivered state is reserved for admins and handled separately.
var sellerStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {},
}

// buyerCancellableStatuses are the states a buyer may cancel from.
var buyerCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

const orderNumberCounterID = "orders"

// OrderServiceDeps wires the collaborators required by the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Gems     repositories.GemRepository
	Carts    repositories.CartRepository
	Counters repositories.CounterRepository

	Events OrderEventPublisher

	// DeliveryEstimate is added to the order creation time to produce the
	// informational expected delivery date.
	DeliveryEstimate time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	gems     repositories.GemRepository
	carts    repositories.CartRepository
	counters repositories.CounterRepository

	events OrderEventPublisher

	deliveryEstimate time.Duration

	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs the order lifecycle service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Gems == nil {
		return nil, errors.New("order service: gem repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "ord_" + ulid.Make().String() }
	}
	estimate := deps.DeliveryEstimate
	if estimate <= 0 {
		estimate = 7 * 24 * time.Hour
	}

	return &orderService{
		orders:           deps.Orders,
		gems:             deps.Gems,
		carts:            deps.Carts,
		counters:         deps.Counters,
		events:           deps.Events,
		deliveryEstimate: estimate,
		clock:            func() time.Time { return clock().UTC() },
		newID:            newID,
		logger:           deps.Logger,
	}, nil
}

func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}
	method := cmd.PaymentMethod
	if method != domain.PaymentMethodCOD && method != domain.PaymentMethodOnline {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	// Validate every line before touching stock; a single unavailable gem
	// aborts the whole checkout so no partial order can exist.
	lines := make([]domain.OrderLineItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		gemID := strings.TrimSpace(item.GemID)
		if gemID == "" {
			return Order{}, fmt.Errorf("%w: item gem id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity for gem %s must be positive", ErrOrderInvalidInput, gemID)
		}

		gem, err := s.gems.Get(ctx, gemID)
		if err != nil {
			if isNotFound(err) {
				return Order{}, fmt.Errorf("%w: gem %s no longer exists", ErrItemUnavailable, gemID)
			}
			return Order{}, s.mapRepositoryError(err)
		}
		if !gem.Active {
			return Order{}, fmt.Errorf("%w: %s is no longer listed", ErrItemUnavailable, gem.Name)
		}
		if gem.AvailableQuantity < item.Quantity {
			return Order{}, fmt.Errorf("%w: %s has only %d units left", ErrItemUnavailable, gem.Name, gem.AvailableQuantity)
		}

		line := domain.OrderLineItem{
			GemID:     gem.ID,
			SellerID:  gem.SellerID,
			Name:      gem.Name,
			Category:  gem.Category,
			ImageURL:  gem.ImageURL,
			UnitPrice: gem.Price,
			Quantity:  item.Quantity,
		}
		if err := domain.PriceLineItem(&line); err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		lines = append(lines, line)
	}

	summary := domain.SummarizeGST(lines)
	now := s.clock()

	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	expected := now.Add(s.deliveryEstimate)
	order := domain.Order{
		ID:               s.newID(),
		OrderNumber:      orderNumber,
		BuyerID:          buyerID,
		Items:            lines,
		Totals:           domain.OrderTotals{Subtotal: summary.Subtotal, Tax: summary.TotalTax, Total: summary.Total},
		TaxBreakdown:     summary.Breakdown,
		ShippingAddress:  trimAddress(cmd.ShippingAddress),
		PaymentMethod:    method,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusPending,
		ExpectedDelivery: &expected,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// COD settles on delivery, so stock is committed at checkout. Online
	// orders defer the debit until the payment is confirmed.
	if method == domain.PaymentMethodCOD {
		if err := s.debitLines(ctx, lines); err != nil {
			return Order{}, err
		}
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if method == domain.PaymentMethodCOD {
			s.restoreLines(ctx, lines)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.clearCart(ctx, buyerID)
	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Metadata:    map[string]string{"paymentMethod": string(method)},
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	order, err := s.loadOrder(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !canViewOrder(order, query.Actor) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, query BuyerOrdersQuery) (domain.CursorPage[Order], error) {
	buyerID := strings.TrimSpace(query.BuyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    buyerID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListSellerOrders(ctx context.Context, query SellerOrdersQuery) (domain.CursorPage[Order], error) {
	sellerID := strings.TrimSpace(query.SellerID)
	if sellerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		SellerID:   sellerID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	// Sellers see only their own lines on each order.
	for i := range page.Items {
		page.Items[i].Items = page.Items[i].ItemsForSeller(sellerID)
	}
	return page, nil
}

func (s *orderService) SellerStats(ctx context.Context, query SellerStatsQuery) (SellerStats, error) {
	sellerID := strings.TrimSpace(query.SellerID)
	if sellerID == "" {
		return SellerStats{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}

	var stats SellerStats
	cursor := ""
	for {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{
			SellerID:   sellerID,
			Pagination: domain.Pagination{Limit: 100, Cursor: cursor},
		})
		if err != nil {
			return SellerStats{}, s.mapRepositoryError(err)
		}
		for _, order := range page.Items {
			stats.TotalOrders++
			switch order.Status {
			case domain.OrderStatusPending:
				stats.PendingOrders++
			case domain.OrderStatusProcessing:
				stats.ProcessingOrders++
			case domain.OrderStatusShipped:
				stats.ShippedOrders++
			case domain.OrderStatusDelivered:
				stats.DeliveredOrders++
			case domain.OrderStatusCancelled:
				stats.CancelledOrders++
			}
			if order.Status == domain.OrderStatusDelivered {
				for _, item := range order.ItemsForSeller(sellerID) {
					stats.TotalRevenue += item.ItemTotal
				}
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	stats.TotalRevenue = domain.RoundMoney(stats.TotalRevenue)
	return stats, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	actor := cmd.Actor
	if !actor.IsAdmin() {
		if !actor.IsSeller() || !order.ContainsSeller(actor.UserID) {
			return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
		}
	}

	next := cmd.NextStatus
	if order.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidTransition, order.Status)
	}

	if next == domain.OrderStatusDelivered {
		// Admins may close out any live order; delivery confirmation often
		// arrives out of band, before the seller records the ship step.
		if !actor.IsAdmin() {
			return Order{}, fmt.Errorf("%w: only admins may mark orders delivered", ErrOrderForbidden)
		}
	} else {
		if !canSellerTransition(order.Status, next) {
			return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, next)
		}
	}

	now := s.clock()
	if next == domain.OrderStatusShipped {
		tracking := strings.TrimSpace(cmd.TrackingNumber)
		if tracking == "" {
			return Order{}, fmt.Errorf("%w: tracking number is required to ship", ErrOrderInvalidInput)
		}
		order.TrackingNumber = tracking
	}
	if next == domain.OrderStatusCancelled {
		order.CancelReason = "cancelled by " + actorLabel(actor)
		order.CancelledAt = &now
		if stockDebited(order) {
			s.restoreLines(ctx, order.Items)
		}
	}

	previous := order.Status
	order.Status = next
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Metadata:    map[string]string{"from": string(previous), "to": string(next)},
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.BuyerID != cmd.Actor.UserID && !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	if !isCancellable(order.Status) {
		return Order{}, fmt.Errorf("%w: cannot cancel a %s order", ErrOrderInvalidTransition, order.Status)
	}

	now := s.clock()
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "cancelled by buyer"
	}

	if stockDebited(order) {
		s.restoreLines(ctx, order.Items)
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.CancelledAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventCancelled,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Metadata:    map[string]string{"reason": reason},
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// generateOrderNumber allocates the next sequential, human readable order
// number from the shared counter.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return "", fmt.Errorf("%w: %s", ErrOrderConflict, counterErr.Message)
		}
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq), nil
}

// debitLines commits stock for every line. On failure the already debited
// lines are restored so a rejected checkout leaves stock untouched.
func (s *orderService) debitLines(ctx context.Context, lines []domain.OrderLineItem) error {
	for i, line := range lines {
		if err := s.gems.ReserveAndDebit(ctx, line.GemID, line.Quantity); err != nil {
			s.restoreLines(ctx, lines[:i])
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
				return fmt.Errorf("%w: %s", ErrInsufficientStock, line.Name)
			}
			if isNotFound(err) {
				return fmt.Errorf("%w: gem %s no longer exists", ErrItemUnavailable, line.GemID)
			}
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// restoreLines returns stock for the given lines. Restore never fails; any
// storage error is logged and skipped so cancellation always completes.
func (s *orderService) restoreLines(ctx context.Context, lines []domain.OrderLineItem) {
	for _, line := range lines {
		if err := s.gems.Restore(ctx, line.GemID, line.Quantity); err != nil {
			s.log(ctx, "order.stock_restore_failed", map[string]any{
				"gemId":    line.GemID,
				"quantity": line.Quantity,
				"error":    err.Error(),
			})
		}
	}
}

func (s *orderService) clearCart(ctx context.Context, buyerID string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, buyerID); err != nil {
		s.log(ctx, "order.cart_clear_failed", map[string]any{
			"buyerId": buyerID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.log(ctx, "order.event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) log(ctx context.Context, event string, fields map[string]any) {
	if s.logger != nil {
		s.logger(ctx, event, fields)
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, ErrOrderUnavailable)
}

func mapRepositoryError(err error, notFound, conflict, unavailable error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", unavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", unavailable, err)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return invErr.Code == repositories.InventoryErrorGemNotFound
	}
	return false
}

// stockDebited reports whether stock was committed for this order: COD
// commits at checkout, online orders only once the payment completed.
func stockDebited(order Order) bool {
	if order.PaymentMethod == domain.PaymentMethodCOD {
		return true
	}
	return order.PaymentStatus == domain.PaymentStatusCompleted
}

func isCancellable(status domain.OrderStatus) bool {
	for _, candidate := range buyerCancellableStatuses {
		if status == candidate {
			return true
		}
	}
	return false
}

func canSellerTransition(from, to domain.OrderStatus) bool {
	for _, candidate := range sellerStateTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func canViewOrder(order Order, actor Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	if order.BuyerID == actor.UserID {
		return true
	}
	return actor.IsSeller() && order.ContainsSeller(actor.UserID)
}

func actorLabel(actor Actor) string {
	if actor.IsAdmin() {
		return "admin"
	}
	return "seller"
}

func validateShippingAddress(addr ShippingAddress) error {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(addr.FullName) == "" {
		missing = append(missing, "fullName")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(addr.Pincode) == "" {
		missing = append(missing, "pincode")
	}
	if strings.TrimSpace(addr.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: shipping address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func trimAddress(addr ShippingAddress) ShippingAddress {
	return ShippingAddress{
		FullName: strings.TrimSpace(addr.FullName),
		Line1:    strings.TrimSpace(addr.Line1),
		Line2:    strings.TrimSpace(addr.Line2),
		City:     strings.TrimSpace(addr.City),
		State:    strings.TrimSpace(addr.State),
		Pincode:  strings.TrimSpace(addr.Pincode),
		Phone:    strings.TrimSpace(addr.Phone),
	}
}
