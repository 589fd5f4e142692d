package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepository struct {
	InsertFunc                func(ctx context.Context, order domain.Order) error
	UpdateFunc                func(ctx context.Context, order domain.Order) error
	FindByIDFunc              func(ctx context.Context, orderID string) (domain.Order, error)
	FindByProviderOrderIDFunc func(ctx context.Context, providerOrderID string) (domain.Order, error)
	ListFunc                  func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	SetPaymentIntentFunc      func(ctx context.Context, orderID, providerOrderID string, amountPaise int64) error
	SetPaymentFailedFunc      func(ctx context.Context, orderID string, onlyIfPending bool) error
	MarkPaidFunc              func(ctx context.Context, orderID string, payment domain.PaymentRecord, at time.Time) (bool, error)
	DeleteStalePendingFunc    func(ctx context.Context, filter repositories.StalePendingFilter) (int, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.InsertFunc == nil {
		return nil
	}
	return s.InsertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.UpdateFunc == nil {
		return nil
	}
	return s.UpdateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.FindByIDFunc == nil {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return s.FindByIDFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (domain.Order, error) {
	if s.FindByProviderOrderIDFunc == nil {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return s.FindByProviderOrderIDFunc(ctx, providerOrderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.ListFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.ListFunc(ctx, filter)
}

func (s *stubOrderRepository) SetPaymentIntent(ctx context.Context, orderID, providerOrderID string, amountPaise int64) error {
	if s.SetPaymentIntentFunc == nil {
		return nil
	}
	return s.SetPaymentIntentFunc(ctx, orderID, providerOrderID, amountPaise)
}

func (s *stubOrderRepository) SetPaymentFailed(ctx context.Context, orderID string, onlyIfPending bool) error {
	if s.SetPaymentFailedFunc == nil {
		return nil
	}
	return s.SetPaymentFailedFunc(ctx, orderID, onlyIfPending)
}

func (s *stubOrderRepository) MarkPaid(ctx context.Context, orderID string, payment domain.PaymentRecord, at time.Time) (bool, error) {
	if s.MarkPaidFunc == nil {
		return false, nil
	}
	return s.MarkPaidFunc(ctx, orderID, payment, at)
}

func (s *stubOrderRepository) DeleteStalePending(ctx context.Context, filter repositories.StalePendingFilter) (int, error) {
	if s.DeleteStalePendingFunc == nil {
		return 0, nil
	}
	return s.DeleteStalePendingFunc(ctx, filter)
}

type stubGemRepository struct {
	GetFunc             func(ctx context.Context, gemID string) (domain.Gem, error)
	ReserveAndDebitFunc func(ctx context.Context, gemID string, qty int64) error
	RestoreFunc         func(ctx context.Context, gemID string, qty int64) error
}

func (s *stubGemRepository) Get(ctx context.Context, gemID string) (domain.Gem, error) {
	if s.GetFunc == nil {
		return domain.Gem{}, stubRepoError{notFound: true}
	}
	return s.GetFunc(ctx, gemID)
}

func (s *stubGemRepository) ReserveAndDebit(ctx context.Context, gemID string, qty int64) error {
	if s.ReserveAndDebitFunc == nil {
		return nil
	}
	return s.ReserveAndDebitFunc(ctx, gemID, qty)
}

func (s *stubGemRepository) Restore(ctx context.Context, gemID string, qty int64) error {
	if s.RestoreFunc == nil {
		return nil
	}
	return s.RestoreFunc(ctx, gemID, qty)
}

type stubCartRepository struct {
	ClearFunc func(ctx context.Context, userID string) error
}

func (s *stubCartRepository) Clear(ctx context.Context, userID string) error {
	if s.ClearFunc == nil {
		return nil
	}
	return s.ClearFunc(ctx, userID)
}

type stubCounterRepository struct {
	mu   sync.Mutex
	next int64

	NextFunc func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.NextFunc != nil {
		return s.NextFunc(ctx, counterID, step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next += step
	return s.next, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return nil
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return fmt.Sprintf("msg-%d", len(s.events)), nil
}

func (s *stubEventPublisher) published() []OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderEvent, len(s.events))
	copy(out, s.events)
	return out
}

func fixedOrderClock() func() time.Time {
	return func() time.Time { return time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC) }
}

func testShippingAddress() ShippingAddress {
	return ShippingAddress{
		FullName: "Asha Verma",
		Line1:    "14 MG Road",
		City:     "Jaipur",
		State:    "Rajasthan",
		Pincode:  "302001",
		Phone:    "+919800000000",
	}
}

func testGemCatalog() map[string]domain.Gem {
	return map[string]domain.Gem{
		"gem-ruby": {
			ID:                "gem-ruby",
			SellerID:          "seller-1",
			Name:              "Burmese Ruby",
			Category:          domain.GemCategoryCutPolished,
			Price:             1000,
			AvailableQuantity: 5,
			Active:            true,
		},
		"gem-rough": {
			ID:                "gem-rough",
			SellerID:          "seller-2",
			Name:              "Rough Sapphire Lot",
			Category:          domain.GemCategoryRoughUnworked,
			Price:             250,
			AvailableQuantity: 10,
			Active:            true,
		},
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock()
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "ord_test" }
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func TestCheckoutCODDebitsStockImmediately(t *testing.T) {
	catalog := testGemCatalog()
	var inserted domain.Order
	var debits []string
	var cleared []string
	publisher := &stubEventPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			InsertFunc: func(ctx context.Context, order domain.Order) error {
				inserted = order
				return nil
			},
		},
		Gems: &stubGemRepository{
			GetFunc: func(ctx context.Context, gemID string) (domain.Gem, error) {
				gem, ok := catalog[gemID]
				if !ok {
					return domain.Gem{}, stubRepoError{notFound: true}
				}
				return gem, nil
			},
			ReserveAndDebitFunc: func(ctx context.Context, gemID string, qty int64) error {
				debits = append(debits, fmt.Sprintf("%s:%d", gemID, qty))
				return nil
			},
		},
		Carts: &stubCartRepository{
			ClearFunc: func(ctx context.Context, userID string) error {
				cleared = append(cleared, userID)
				return nil
			},
		},
		Counters: &stubCounterRepository{next: 41},
		Events:   publisher,
	})

	order, err := svc.Checkout(context.Background(), CheckoutCommand{
		BuyerID:         "buyer-1",
		Items:           []CheckoutItem{{GemID: "gem-ruby", Quantity: 1}},
		ShippingAddress: testShippingAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}

	if order.OrderNumber != "ORD-2026-000042" {
		t.Fatalf("expected order number ORD-2026-000042, got %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment status, got %s", order.PaymentStatus)
	}
	if got, want := order.Totals.Total, 1000.0; got != want {
		t.Fatalf("expected total %.2f, got %.2f", want, got)
	}
	if got, want := order.Totals.Subtotal, 980.39; got != want {
		t.Fatalf("expected subtotal %.2f, got %.2f", want, got)
	}
	if got, want := order.Totals.Tax, 19.61; got != want {
		t.Fatalf("expected tax %.2f, got %.2f", want, got)
	}
	if len(debits) != 1 || debits[0] != "gem-ruby:1" {
		t.Fatalf("expected one debit for gem-ruby, got %v", debits)
	}
	if len(cleared) != 1 || cleared[0] != "buyer-1" {
		t.Fatalf("expected cart cleared for buyer-1, got %v", cleared)
	}
	if inserted.ID != order.ID {
		t.Fatalf("expected inserted order %s, got %s", order.ID, inserted.ID)
	}
	if order.ExpectedDelivery == nil {
		t.Fatal("expected delivery estimate to be set")
	}
	if got := order.ExpectedDelivery.Sub(order.CreatedAt); got != 7*24*time.Hour {
		t.Fatalf("expected 7 day delivery estimate, got %s", got)
	}

	events := publisher.published()
	if len(events) != 1 || events[0].Type != OrderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", events)
	}
}

func TestCheckoutOnlineDefersStockDebit(t *testing.T) {
	catalog := testGemCatalog()
	debited := false

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{},
		Gems: &stubGemRepository{
			GetFunc: func(ctx context.Context, gemID string) (domain.Gem, error) {
				return catalog[gemID], nil
			},
			ReserveAndDebitFunc: func(ctx context.Context, gemID string, qty int64) error {
				debited = true
				return nil
			},
		},
		Counters: &stubCounterRepository{},
	})

	order, err := svc.Checkout(context.Background(), CheckoutCommand{
		BuyerID:         "buyer-1",
		Items:           []CheckoutItem{{GemID: "gem-ruby", Quantity: 2}},
		ShippingAddress: testShippingAddress(),
		PaymentMethod:   domain.PaymentMethodOnline,
	})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}
	if debited {
		t.Fatal("online checkout must not debit stock before the payment completes")
	}
	if order.Totals.Total != 2000 {
		t.Fatalf("expected total 2000, got %.2f", order.Totals.Total)
	}
}

func TestCheckoutRejectsUnavailableItemsBeforeAnyDebit(t *testing.T) {
	catalog := testGemCatalog()
	debited := false
	gems := &stubGemRepository{
		GetFunc: func(ctx context.Context, gemID string) (domain.Gem, error) {
			gem, ok := catalog[gemID]
			if !ok {
				return domain.Gem{}, stubRepoError{notFound: true}
			}
			return gem, nil
		},
		ReserveAndDebitFunc: func(ctx context.Context, gemID string, qty int64) error {
			debited = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepository{},
		Gems:     gems,
		Counters: &stubCounterRepository{},
	})

	cases := []struct {
		name  string
		setup func()
		items []CheckoutItem
	}{
		{
			name:  "missing gem",
			setup: func() {},
			items: []CheckoutItem{{GemID: "gem-ruby", Quantity: 1}, {GemID: "gem-missing", Quantity: 1}},
		},
		{
			name: "inactive gem",
			setup: func() {
				gem := catalog["gem-rough"]
				gem.Active = false
				catalog["gem-rough"] = gem
			},
			items: []CheckoutItem{{GemID: "gem-ruby", Quantity: 1}, {GemID: "gem-rough", Quantity: 1}},
		},
		{
			name:  "insufficient stock",
			setup: func() {},
			items: []CheckoutItem{{GemID: "gem-ruby", Quantity: 99}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			catalog = testGemCatalog()
			tc.setup()
			debited = false

			_, err := svc.Checkout(context.Background(), CheckoutCommand{
				BuyerID:         "buyer-1",
				Items:           tc.items,
				ShippingAddress: testShippingAddress(),
				PaymentMethod:   domain.PaymentMethodCOD,
			})
			if !errors.Is(err, ErrItemUnavailable) {
				t.Fatalf("expected ErrItemUnavailable, got %v", err)
			}
			if debited {
				t.Fatal("no stock may be debited when an item is rejected")
			}
		})
	}
}

func TestCheckoutRollsBackPartialDebits(t *testing.T) {
	catalog := testGemCatalog()
	var restored []string

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{},
		Gems: &stubGemRepository{
			GetFunc: func(ctx context.Context, gemID string) (domain.Gem, error) {
				return catalog[gemID], nil
			},
			ReserveAndDebitFunc: func(ctx context.Context, gemID string, qty int64) error {
				if gemID == "gem-rough" {
					return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "insufficient stock", nil)
				}
				return nil
			},
			RestoreFunc: func(ctx context.Context, gemID string, qty int64) error {
				restored = append(restored, fmt.Sprintf("%s:%d", gemID, qty))
				return nil
			},
		},
		Counters: &stubCounterRepository{},
	})

	_, err := svc.Checkout(context.Background(), CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []CheckoutItem{
			{GemID: "gem-ruby", Quantity: 2},
			{GemID: "gem-rough", Quantity: 3},
		},
		ShippingAddress: testShippingAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if len(restored) != 1 || restored[0] != "gem-ruby:2" {
		t.Fatalf("expected the first debit to be restored, got %v", restored)
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepository{},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	valid := CheckoutCommand{
		BuyerID:         "buyer-1",
		Items:           []CheckoutItem{{GemID: "gem-ruby", Quantity: 1}},
		ShippingAddress: testShippingAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	}

	cases := []struct {
		name   string
		mutate func(cmd *CheckoutCommand)
	}{
		{"missing buyer", func(cmd *CheckoutCommand) { cmd.BuyerID = " " }},
		{"no items", func(cmd *CheckoutCommand) { cmd.Items = nil }},
		{"zero quantity", func(cmd *CheckoutCommand) { cmd.Items = []CheckoutItem{{GemID: "gem-ruby", Quantity: 0}} }},
		{"negative quantity", func(cmd *CheckoutCommand) { cmd.Items = []CheckoutItem{{GemID: "gem-ruby", Quantity: -2}} }},
		{"missing pincode", func(cmd *CheckoutCommand) { cmd.ShippingAddress.Pincode = "" }},
		{"missing phone", func(cmd *CheckoutCommand) { cmd.ShippingAddress.Phone = "" }},
		{"bad payment method", func(cmd *CheckoutCommand) { cmd.PaymentMethod = domain.PaymentMethod("wire") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := valid
			cmd.ShippingAddress = testShippingAddress()
			tc.mutate(&cmd)
			if _, err := svc.Checkout(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}

func TestCheckoutConcurrentOrderNumbersAreUnique(t *testing.T) {
	catalog := testGemCatalog()
	counters := &stubCounterRepository{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{},
		Gems: &stubGemRepository{
			GetFunc: func(ctx context.Context, gemID string) (domain.Gem, error) {
				return catalog[gemID], nil
			},
		},
		Counters: counters,
	})

	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.Checkout(context.Background(), CheckoutCommand{
				BuyerID:         "buyer-1",
				Items:           []CheckoutItem{{GemID: "gem-rough", Quantity: 1}},
				ShippingAddress: testShippingAddress(),
				PaymentMethod:   domain.PaymentMethodOnline,
			})
			if err != nil {
				t.Errorf("Checkout returned error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[order.OrderNumber] {
				t.Errorf("duplicate order number %s", order.OrderNumber)
			}
			seen[order.OrderNumber] = true
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Fatalf("expected %d distinct order numbers, got %d", workers, len(seen))
	}
}

func TestCancelRestoresCommittedStock(t *testing.T) {
	now := fixedOrderClock()()
	existing := domain.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-2026-000001",
		BuyerID:       "buyer-1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Items: []domain.OrderLineItem{
			{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 2},
			{GemID: "gem-rough", SellerID: "seller-2", Quantity: 1},
		},
		CreatedAt: now.Add(-time.Hour),
	}

	var restored []string
	var updated domain.Order
	publisher := &stubEventPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return existing, nil
			},
			UpdateFunc: func(ctx context.Context, order domain.Order) error {
				updated = order
				return nil
			},
		},
		Gems: &stubGemRepository{
			RestoreFunc: func(ctx context.Context, gemID string, qty int64) error {
				restored = append(restored, fmt.Sprintf("%s:%d", gemID, qty))
				return nil
			},
		},
		Counters: &stubCounterRepository{},
		Events:   publisher,
	})

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{UserID: "buyer-1", Roles: []string{"buyer"}},
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", order.Status)
	}
	if order.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancel reason %q", order.CancelReason)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(now) {
		t.Fatalf("expected cancelledAt %s, got %v", now, order.CancelledAt)
	}
	if len(restored) != 2 || restored[0] != "gem-ruby:2" || restored[1] != "gem-rough:1" {
		t.Fatalf("expected both lines restored, got %v", restored)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected persisted status cancelled, got %s", updated.Status)
	}

	events := publisher.published()
	if len(events) != 1 || events[0].Type != OrderEventCancelled {
		t.Fatalf("expected one order.cancelled event, got %+v", events)
	}
}

func TestCancelPendingOnlineOrderSkipsRestore(t *testing.T) {
	existing := domain.Order{
		ID:            "ord_1",
		BuyerID:       "buyer-1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodOnline,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         []domain.OrderLineItem{{GemID: "gem-ruby", Quantity: 1}},
	}

	restoreCalls := 0
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return existing, nil
			},
		},
		Gems: &stubGemRepository{
			RestoreFunc: func(ctx context.Context, gemID string, qty int64) error {
				restoreCalls++
				return nil
			},
		},
		Counters: &stubCounterRepository{},
	})

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{UserID: "buyer-1"},
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if restoreCalls != 0 {
		t.Fatalf("unpaid online order holds no stock, expected no restore, got %d", restoreCalls)
	}
}

func TestCancelRejectsLateOrForeignOrders(t *testing.T) {
	cases := []struct {
		name    string
		status  domain.OrderStatus
		actor   Actor
		wantErr error
	}{
		{"shipped", domain.OrderStatusShipped, Actor{UserID: "buyer-1"}, ErrOrderInvalidTransition},
		{"delivered", domain.OrderStatusDelivered, Actor{UserID: "buyer-1"}, ErrOrderInvalidTransition},
		{"already cancelled", domain.OrderStatusCancelled, Actor{UserID: "buyer-1"}, ErrOrderInvalidTransition},
		{"foreign buyer", domain.OrderStatusPending, Actor{UserID: "buyer-2"}, ErrOrderForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestOrderService(t, OrderServiceDeps{
				Orders: &stubOrderRepository{
					FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
						return domain.Order{
							ID:            orderID,
							BuyerID:       "buyer-1",
							Status:        tc.status,
							PaymentMethod: domain.PaymentMethodCOD,
						}, nil
					},
				},
				Gems:     &stubGemRepository{},
				Counters: &stubCounterRepository{},
			})

			_, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Actor: tc.actor})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTransitionStatusMatrix(t *testing.T) {
	seller := Actor{UserID: "seller-1", Roles: []string{"seller"}}
	admin := Actor{UserID: "admin-1", Roles: []string{"admin"}}

	cases := []struct {
		name    string
		from    domain.OrderStatus
		to      domain.OrderStatus
		actor   Actor
		wantErr error
	}{
		{"pending to processing", domain.OrderStatusPending, domain.OrderStatusProcessing, seller, nil},
		{"pending to cancelled", domain.OrderStatusPending, domain.OrderStatusCancelled, seller, nil},
		{"processing to shipped", domain.OrderStatusProcessing, domain.OrderStatusShipped, seller, nil},
		{"processing to cancelled", domain.OrderStatusProcessing, domain.OrderStatusCancelled, seller, nil},
		{"pending to shipped", domain.OrderStatusPending, domain.OrderStatusShipped, seller, ErrOrderInvalidTransition},
		{"shipped to processing", domain.OrderStatusShipped, domain.OrderStatusProcessing, seller, ErrOrderInvalidTransition},
		{"shipped to delivered by seller", domain.OrderStatusShipped, domain.OrderStatusDelivered, seller, ErrOrderForbidden},
		{"shipped to delivered by admin", domain.OrderStatusShipped, domain.OrderStatusDelivered, admin, nil},
		{"pending to delivered by admin", domain.OrderStatusPending, domain.OrderStatusDelivered, admin, nil},
		{"processing to delivered by admin", domain.OrderStatusProcessing, domain.OrderStatusDelivered, admin, nil},
		{"pending to delivered by seller", domain.OrderStatusPending, domain.OrderStatusDelivered, seller, ErrOrderForbidden},
		{"delivered is terminal", domain.OrderStatusDelivered, domain.OrderStatusProcessing, admin, ErrOrderInvalidTransition},
		{"cancelled is terminal", domain.OrderStatusCancelled, domain.OrderStatusProcessing, admin, ErrOrderInvalidTransition},
		{"foreign seller", domain.OrderStatusPending, domain.OrderStatusProcessing, Actor{UserID: "seller-9", Roles: []string{"seller"}}, ErrOrderForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestOrderService(t, OrderServiceDeps{
				Orders: &stubOrderRepository{
					FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
						return domain.Order{
							ID:            orderID,
							BuyerID:       "buyer-1",
							Status:        tc.from,
							PaymentMethod: domain.PaymentMethodCOD,
							Items:         []domain.OrderLineItem{{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 1}},
						}, nil
					},
				},
				Gems:     &stubGemRepository{},
				Counters: &stubCounterRepository{},
			})

			tracking := ""
			if tc.to == domain.OrderStatusShipped {
				tracking = "AWB123456"
			}
			order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderID:        "ord_1",
				Actor:          tc.actor,
				NextStatus:     tc.to,
				TrackingNumber: tracking,
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionStatus returned error: %v", err)
			}
			if order.Status != tc.to {
				t.Fatalf("expected status %s, got %s", tc.to, order.Status)
			}
		})
	}
}

func TestTransitionToShippedRequiresTracking(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{
					ID:      orderID,
					BuyerID: "buyer-1",
					Status:  domain.OrderStatusProcessing,
					Items:   []domain.OrderLineItem{{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 1}},
				}, nil
			},
		},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:    "ord_1",
		Actor:      Actor{UserID: "seller-1", Roles: []string{"seller"}},
		NextStatus: domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestSellerCancellationRestoresStock(t *testing.T) {
	var restored []string
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{
					ID:            orderID,
					BuyerID:       "buyer-1",
					Status:        domain.OrderStatusProcessing,
					PaymentMethod: domain.PaymentMethodCOD,
					Items:         []domain.OrderLineItem{{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 3}},
				}, nil
			},
		},
		Gems: &stubGemRepository{
			RestoreFunc: func(ctx context.Context, gemID string, qty int64) error {
				restored = append(restored, fmt.Sprintf("%s:%d", gemID, qty))
				return nil
			},
		},
		Counters: &stubCounterRepository{},
	})

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:    "ord_1",
		Actor:      Actor{UserID: "seller-1", Roles: []string{"seller"}},
		NextStatus: domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if order.CancelReason != "cancelled by seller" {
		t.Fatalf("unexpected cancel reason %q", order.CancelReason)
	}
	if len(restored) != 1 || restored[0] != "gem-ruby:3" {
		t.Fatalf("expected stock restored, got %v", restored)
	}
}

func TestGetEnforcesVisibility(t *testing.T) {
	order := domain.Order{
		ID:      "ord_1",
		BuyerID: "buyer-1",
		Items:   []domain.OrderLineItem{{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 1}},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			FindByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return order, nil
			},
		},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	cases := []struct {
		name    string
		actor   Actor
		allowed bool
	}{
		{"buyer", Actor{UserID: "buyer-1", Roles: []string{"buyer"}}, true},
		{"selling seller", Actor{UserID: "seller-1", Roles: []string{"seller"}}, true},
		{"admin", Actor{UserID: "admin-1", Roles: []string{"admin"}}, true},
		{"other buyer", Actor{UserID: "buyer-2", Roles: []string{"buyer"}}, false},
		{"other seller", Actor{UserID: "seller-9", Roles: []string{"seller"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Get(context.Background(), GetOrderQuery{OrderID: "ord_1", Actor: tc.actor})
			if tc.allowed && err != nil {
				t.Fatalf("expected access, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrOrderForbidden) {
				t.Fatalf("expected ErrOrderForbidden, got %v", err)
			}
		})
	}
}

func TestListSellerOrdersFiltersForeignLines(t *testing.T) {
	page := domain.CursorPage[domain.Order]{
		Items: []domain.Order{{
			ID: "ord_1",
			Items: []domain.OrderLineItem{
				{GemID: "gem-ruby", SellerID: "seller-1", Quantity: 1},
				{GemID: "gem-rough", SellerID: "seller-2", Quantity: 2},
			},
		}},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			ListFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
				if filter.SellerID != "seller-1" {
					t.Fatalf("expected seller filter seller-1, got %q", filter.SellerID)
				}
				return page, nil
			},
		},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	result, err := svc.ListSellerOrders(context.Background(), SellerOrdersQuery{SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("ListSellerOrders returned error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(result.Items))
	}
	items := result.Items[0].Items
	if len(items) != 1 || items[0].SellerID != "seller-1" {
		t.Fatalf("expected only seller-1 lines, got %+v", items)
	}
}

func TestSellerStatsAggregatesAcrossPages(t *testing.T) {
	pageOne := domain.CursorPage[domain.Order]{
		Items: []domain.Order{
			{Status: domain.OrderStatusDelivered, Items: []domain.OrderLineItem{{SellerID: "seller-1", ItemTotal: 1000}}},
			{Status: domain.OrderStatusPending, Items: []domain.OrderLineItem{{SellerID: "seller-1", ItemTotal: 500}}},
		},
		NextCursor: "page-2",
	}
	pageTwo := domain.CursorPage[domain.Order]{
		Items: []domain.Order{
			{Status: domain.OrderStatusDelivered, Items: []domain.OrderLineItem{
				{SellerID: "seller-1", ItemTotal: 250.50},
				{SellerID: "seller-2", ItemTotal: 9999},
			}},
			{Status: domain.OrderStatusCancelled, Items: []domain.OrderLineItem{{SellerID: "seller-1", ItemTotal: 42}}},
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepository{
			ListFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
				if filter.Pagination.Cursor == "page-2" {
					return pageTwo, nil
				}
				return pageOne, nil
			},
		},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	stats, err := svc.SellerStats(context.Background(), SellerStatsQuery{SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("SellerStats returned error: %v", err)
	}
	if stats.TotalOrders != 4 {
		t.Fatalf("expected 4 orders, got %d", stats.TotalOrders)
	}
	if stats.DeliveredOrders != 2 || stats.PendingOrders != 1 || stats.CancelledOrders != 1 {
		t.Fatalf("unexpected status counts: %+v", stats)
	}
	if stats.TotalRevenue != 1250.50 {
		t.Fatalf("expected revenue 1250.50 from delivered seller lines, got %.2f", stats.TotalRevenue)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepository{},
		Gems:     &stubGemRepository{},
		Counters: &stubCounterRepository{},
	})

	_, err := svc.Get(context.Background(), GetOrderQuery{OrderID: "ord_missing", Actor: Actor{UserID: "buyer-1"}})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
