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

type stubPaymentService struct {
	createIntentFn func(context.Context, services.CreatePaymentIntentCommand) (services.PaymentIntent, error)
	verifyFn       func(context.Context, services.VerifyPaymentCommand) (services.Order, error)
	webhookFn      func(context.Context, services.WebhookCommand) error
	statusFn       func(context.Context, services.PaymentStatusQuery) (services.PaymentStatusView, error)
	purgeFn        func(context.Context, time.Time) (int, error)
}

func (s *stubPaymentService) CreateIntent(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error) {
	if s.createIntentFn != nil {
		return s.createIntentFn(ctx, cmd)
	}
	return services.PaymentIntent{}, errors.New("not implemented")
}

func (s *stubPaymentService) VerifyCallback(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, cmd services.WebhookCommand) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubPaymentService) PaymentStatus(ctx context.Context, query services.PaymentStatusQuery) (services.PaymentStatusView, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, query)
	}
	return services.PaymentStatusView{}, errors.New("not implemented")
}

func (s *stubPaymentService) PurgeStalePayments(ctx context.Context, olderThan time.Time) (int, error) {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, olderThan)
	}
	return 0, nil
}

func newPaymentRouter(service services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestPaymentHandlersCreateIntent(t *testing.T) {
	var captured services.CreatePaymentIntentCommand
	service := &stubPaymentService{
		createIntentFn: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error) {
			captured = cmd
			return services.PaymentIntent{
				OrderID:         "ord_1",
				OrderNumber:     "ORD-2026-000042",
				ProviderOrderID: "order_r1",
				KeyID:           "rzp_test_key",
				AmountPaise:     100000,
				Currency:        "INR",
			}, nil
		},
	}
	router := newPaymentRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/payments/intents", bytes.NewBufferString(`{"order_id": "ord_1"}`)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Actor.UserID != "buyer-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp createIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ProviderOrderID != "order_r1" || resp.Amount != 100000 || resp.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPaymentHandlersCreateIntentErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not online order", fmt.Errorf("%w: not online", services.ErrPaymentInvalidInput), http.StatusBadRequest},
		{"already paid", fmt.Errorf("%w: paid", services.ErrPaymentConflict), http.StatusConflict},
		{"foreign order", services.ErrPaymentForbidden, http.StatusForbidden},
		{"provider down", services.ErrPaymentProviderUnavailable, http.StatusBadGateway},
		{"missing order", services.ErrPaymentNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newPaymentRouter(&stubPaymentService{
				createIntentFn: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error) {
					return services.PaymentIntent{}, tc.err
				},
			})
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/payments/intents", bytes.NewBufferString(`{"order_id": "ord_1"}`)), "buyer-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestPaymentHandlersVerify(t *testing.T) {
	var captured services.VerifyPaymentCommand
	service := &stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.PaymentMethod = domain.PaymentMethodOnline
			order.PaymentStatus = domain.PaymentStatusCompleted
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
	}
	router := newPaymentRouter(service)

	body := `{
		"razorpay_order_id": "order_r1",
		"razorpay_payment_id": "pay_r1",
		"razorpay_signature": "deadbeef"
	}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/payments/verify", bytes.NewBufferString(body)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProviderOrderID != "order_r1" || captured.ProviderPaymentID != "pay_r1" || captured.Signature != "deadbeef" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.PaymentStatus != "completed" || resp.Order.Status != "processing" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
}

func TestPaymentHandlersVerifyFailureReturns400(t *testing.T) {
	router := newPaymentRouter(&stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: signature mismatch", services.ErrPaymentVerificationFailed)
		},
	})

	body := `{"razorpay_order_id": "order_r1", "razorpay_payment_id": "pay_r1", "razorpay_signature": "bad"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/payments/verify", bytes.NewBufferString(body)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersStatus(t *testing.T) {
	service := &stubPaymentService{
		statusFn: func(ctx context.Context, query services.PaymentStatusQuery) (services.PaymentStatusView, error) {
			if query.OrderID != "ord_1" {
				return services.PaymentStatusView{}, services.ErrPaymentNotFound
			}
			return services.PaymentStatusView{
				OrderID:       "ord_1",
				OrderNumber:   "ORD-2026-000042",
				PaymentStatus: domain.PaymentStatusCompleted,
				OrderStatus:   domain.OrderStatusProcessing,
				AmountPaise:   100000,
			}, nil
		},
	}
	router := newPaymentRouter(service)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/payments/orders/ord_1/status", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp paymentStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PaymentStatus != "completed" || resp.Amount != 100000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func newWebhookRouter(service services.PaymentService, limiter RateLimiter) chi.Router {
	handler := NewWebhookHandlers(service, limiter)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlerPassesRawBodyAndSignature(t *testing.T) {
	var captured services.WebhookCommand
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			captured = cmd
			return nil
		},
	}
	router := newWebhookRouter(service, nil)

	// Whitespace is significant: the signature covers the exact raw bytes.
	body := "{\"event\": \"payment.captured\",  \"payload\": {}}\n"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(body))
	req.Header.Set(webhookSignatureHeader, "cafebabe")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(captured.Payload) != body {
		t.Fatalf("expected untouched raw payload, got %q", string(captured.Payload))
	}
	if captured.Signature != "cafebabe" {
		t.Fatalf("expected signature from header, got %q", captured.Signature)
	}
}

func TestWebhookHandlerRejectsInvalidSignature(t *testing.T) {
	router := newWebhookRouter(&stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			return fmt.Errorf("%w: webhook signature mismatch", services.ErrPaymentVerificationFailed)
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(`{}`))
	req.Header.Set(webhookSignatureHeader, "bad")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlerRateLimits(t *testing.T) {
	clock := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewFixedWindowRateLimiter(1, time.Minute, func() time.Time { return clock })

	router := newWebhookRouter(&stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error { return nil },
	}, limiter)

	for i, wantStatus := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != wantStatus {
			t.Fatalf("request %d: expected status %d, got %d", i, wantStatus, rr.Code)
		}
	}
}

func TestWebhookHandlerHasNoIdentityRequirement(t *testing.T) {
	called := false
	router := newWebhookRouter(&stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			if _, ok := auth.IdentityFromContext(ctx); ok {
				t.Fatal("webhook requests must not carry a user identity")
			}
			called = true
			return nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !called {
		t.Fatal("expected webhook service to be invoked")
	}
}
