package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/platform/auth"
	"github.com/ratnakart/api/internal/services"
)

type stubOrderService struct {
	checkoutFn   func(context.Context, services.CheckoutCommand) (services.Order, error)
	getFn        func(context.Context, services.GetOrderQuery) (services.Order, error)
	listBuyerFn  func(context.Context, services.BuyerOrdersQuery) (domain.CursorPage[services.Order], error)
	listSellerFn func(context.Context, services.SellerOrdersQuery) (domain.CursorPage[services.Order], error)
	statsFn      func(context.Context, services.SellerStatsQuery) (services.SellerStats, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, query services.BuyerOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listBuyerFn != nil {
		return s.listBuyerFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListSellerOrders(ctx context.Context, query services.SellerOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listSellerFn != nil {
		return s.listSellerFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) SellerStats(ctx context.Context, query services.SellerStatsQuery) (services.SellerStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, query)
	}
	return services.SellerStats{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{"buyer"}
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func sampleOrder() domain.Order {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	expected := now.Add(7 * 24 * time.Hour)
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-2026-000042",
		BuyerID:     "buyer-1",
		Items: []domain.OrderLineItem{{
			GemID:          "gem-ruby",
			SellerID:       "seller-1",
			Name:           "Burmese Ruby",
			Category:       domain.GemCategoryCutPolished,
			UnitPrice:      1000,
			Quantity:       1,
			ItemTotal:      1000,
			PriceBeforeTax: 980.39,
			GSTRate:        0.02,
			GSTAmount:      19.61,
		}},
		Totals:       domain.OrderTotals{Subtotal: 980.39, Tax: 19.61, Total: 1000},
		TaxBreakdown: []domain.TaxBreakdownEntry{{Rate: 0.02, TaxableAmount: 980.39, TaxAmount: 19.61}},
		ShippingAddress: domain.ShippingAddress{
			FullName: "Asha Verma",
			Line1:    "14 MG Road",
			City:     "Jaipur",
			State:    "Rajasthan",
			Pincode:  "302001",
			Phone:    "+919800000000",
		},
		PaymentMethod:    domain.PaymentMethodCOD,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusPending,
		ExpectedDelivery: &expected,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestOrderHandlersCheckout(t *testing.T) {
	var captured services.CheckoutCommand
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	body := `{
		"items": [{"gem_id": "gem-ruby", "quantity": 1}],
		"shipping_address": {
			"full_name": "Asha Verma",
			"line1": "14 MG Road",
			"city": "Jaipur",
			"state": "Rajasthan",
			"pincode": "302001",
			"phone": "+919800000000"
		},
		"payment_method": "cod"
	}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer from identity, got %q", captured.BuyerID)
	}
	if len(captured.Items) != 1 || captured.Items[0].GemID != "gem-ruby" {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected cod method, got %s", captured.PaymentMethod)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-2026-000042" {
		t.Fatalf("unexpected order number %s", resp.Order.OrderNumber)
	}
	if resp.Order.Totals.Subtotal != 980.39 || resp.Order.Totals.Tax != 19.61 {
		t.Fatalf("unexpected totals: %+v", resp.Order.Totals)
	}
}

func TestOrderHandlersCheckoutRequiresIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrOrderInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"item unavailable", fmt.Errorf("%w: sold out", services.ErrItemUnavailable), http.StatusConflict, "item_unavailable"},
		{"insufficient stock", services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{"storage down", services.ErrOrderUnavailable, http.StatusInternalServerError, "order_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})
			body := `{"items": [{"gem_id": "gem-ruby", "quantity": 1}], "payment_method": "cod"}`
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body)), "buyer-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to parse error body: %v", err)
			}
			if payload.Error != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, payload.Error)
			}
		})
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.BuyerOrdersQuery
	service := &stubOrderService{
		listBuyerFn: func(ctx context.Context, query services.BuyerOrdersQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{
				Items:      []domain.Order{sampleOrder()},
				NextCursor: "cursor-2",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/?status=pending&limit=10&cursor=cursor-1", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer scope, got %q", captured.BuyerID)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status filter, got %v", captured.Status)
	}
	if captured.Pagination.Limit != 10 || captured.Pagination.Cursor != "cursor-1" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextCursor != "cursor-2" {
		t.Fatalf("unexpected list response: %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsBadStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/?status=bogus", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersSellerRoutesRequireSellerRole(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	for _, path := range []string{"/orders/seller", "/orders/seller/stats"} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, path, nil), "buyer-1", "buyer")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403 for %s, got %d", path, rr.Code)
		}
	}
}

func TestOrderHandlersSellerStats(t *testing.T) {
	service := &stubOrderService{
		statsFn: func(ctx context.Context, query services.SellerStatsQuery) (services.SellerStats, error) {
			if query.SellerID != "seller-1" {
				t.Fatalf("expected seller-1 scope, got %q", query.SellerID)
			}
			return services.SellerStats{TotalOrders: 12, DeliveredOrders: 7, TotalRevenue: 45000.25}, nil
		},
	}
	router := newOrderRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/seller/stats", nil), "seller-1", "seller")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp sellerStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.TotalOrders != 12 || resp.DeliveredOrders != 7 || resp.TotalRevenue != 45000.25 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
}

func TestOrderHandlersCancel(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = cmd.Reason
			return order, nil
		},
	}
	router := newOrderRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/cancel", bytes.NewBufferString(`{"reason": "changed my mind"}`)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Reason != "changed my mind" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Actor.UserID != "buyer-1" {
		t.Fatalf("expected actor buyer-1, got %q", captured.Actor.UserID)
	}
}

func TestOrderHandlersCancelAllowsEmptyBody(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/cancel", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionStatus(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = cmd.NextStatus
			order.TrackingNumber = cmd.TrackingNumber
			return order, nil
		},
	}
	router := newOrderRouter(service)

	body := `{"status": "shipped", "tracking_number": "AWB123456"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", bytes.NewBufferString(body)), "seller-1", "seller")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.NextStatus != domain.OrderStatusShipped || captured.TrackingNumber != "AWB123456" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "shipped" || resp.Order.TrackingNumber != "AWB123456" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
}

func TestOrderHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", bytes.NewBufferString(`{"status": "teleported"}`)), "seller-1", "seller")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
			if query.OrderID != "ord_1" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ord_404", nil), "buyer-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
