package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/payments"
	"github.com/ratnakart/api/internal/platform/auth"
	"github.com/ratnakart/api/internal/repositories"
)

// Sentinel errors returned by the payment service.
var (
	ErrPaymentInvalidInput        = errors.New("payment: invalid input")
	ErrPaymentNotFound            = errors.New("payment: not found")
	ErrPaymentConflict            = errors.New("payment: conflict")
	ErrPaymentForbidden           = errors.New("payment: forbidden")
	ErrPaymentUnavailable         = errors.New("payment: storage unavailable")
	ErrPaymentVerificationFailed  = errors.New("payment: verification failed")
	ErrPaymentProviderUnavailable = errors.New("payment: provider unavailable")
)

// PaymentServiceDeps wires the collaborators required by the payment service.
type PaymentServiceDeps struct {
	Orders repositories.OrderRepository
	Gems   repositories.GemRepository
	Carts  repositories.CartRepository

	Provider payments.Provider
	Events   OrderEventPublisher

	// KeyID is the public provider key handed to storefront clients.
	KeyID string
	// KeySecret signs checkout callbacks.
	KeySecret string
	// WebhookSecret signs webhook deliveries.
	WebhookSecret string

	// MinimumAmountPaise is the smallest chargeable amount.
	MinimumAmountPaise int64
	// StaleMaxAge is how long an unpaid online order may linger before the
	// next intent from the same buyer sweeps it away.
	StaleMaxAge time.Duration

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders repositories.OrderRepository
	gems   repositories.GemRepository
	carts  repositories.CartRepository

	provider payments.Provider
	events   OrderEventPublisher

	keyID         string
	keySecret     string
	webhookSecret string

	minimumAmountPaise int64
	staleMaxAge        time.Duration

	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs the payment reconciliation service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gems == nil {
		return nil, errors.New("payment service: gem repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: provider is required")
	}
	if strings.TrimSpace(deps.KeySecret) == "" {
		return nil, errors.New("payment service: key secret is required")
	}
	webhookSecret := deps.WebhookSecret
	if strings.TrimSpace(webhookSecret) == "" {
		webhookSecret = deps.KeySecret
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	minimum := deps.MinimumAmountPaise
	if minimum <= 0 {
		minimum = 100
	}
	staleMaxAge := deps.StaleMaxAge
	if staleMaxAge <= 0 {
		staleMaxAge = time.Hour
	}

	return &paymentService{
		orders:             deps.Orders,
		gems:               deps.Gems,
		carts:              deps.Carts,
		provider:           deps.Provider,
		events:             deps.Events,
		keyID:              deps.KeyID,
		keySecret:          deps.KeySecret,
		webhookSecret:      webhookSecret,
		minimumAmountPaise: minimum,
		staleMaxAge:        staleMaxAge,
		clock:              func() time.Time { return clock().UTC() },
		logger:             deps.Logger,
	}, nil
}

func (s *paymentService) CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, s.mapRepositoryError(err)
	}
	if order.BuyerID != cmd.Actor.UserID && !cmd.Actor.IsAdmin() {
		return PaymentIntent{}, fmt.Errorf("%w: order %s", ErrPaymentForbidden, order.ID)
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is not an online payment order", ErrPaymentInvalidInput, order.ID)
	}
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is already paid", ErrPaymentConflict, order.ID)
	}
	if order.Status == domain.OrderStatusCancelled {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is cancelled", ErrPaymentConflict, order.ID)
	}

	// Sweep the buyer's abandoned attempts so stale orders do not pile up.
	now := s.clock()
	purged, purgeErr := s.orders.DeleteStalePending(ctx, repositories.StalePendingFilter{
		BuyerID:   order.BuyerID,
		OlderThan: now.Add(-s.staleMaxAge),
	})
	if purgeErr != nil {
		s.log(ctx, "payment.stale_purge_failed", map[string]any{
			"buyerId": order.BuyerID,
			"error":   purgeErr.Error(),
		})
	} else if purged > 0 {
		s.log(ctx, "payment.stale_orders_purged", map[string]any{
			"buyerId": order.BuyerID,
			"count":   purged,
		})
	}

	amountPaise := domain.AmountInPaise(order.Totals.Total)
	if amountPaise < s.minimumAmountPaise {
		return PaymentIntent{}, fmt.Errorf("%w: amount %d paise is below the %d paise minimum", ErrPaymentInvalidInput, amountPaise, s.minimumAmountPaise)
	}

	providerOrder, err := s.provider.CreateOrder(ctx, payments.OrderRequest{
		AmountPaise: amountPaise,
		Currency:    "INR",
		Receipt:     order.OrderNumber,
		Notes: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"userId":      order.BuyerID,
		},
	})
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}

	if err := s.orders.SetPaymentIntent(ctx, order.ID, providerOrder.ID, amountPaise); err != nil {
		return PaymentIntent{}, s.mapRepositoryError(err)
	}

	return PaymentIntent{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		ProviderOrderID: providerOrder.ID,
		KeyID:           s.keyID,
		AmountPaise:     amountPaise,
		Currency:        "INR",
	}, nil
}

func (s *paymentService) VerifyCallback(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	providerOrderID := strings.TrimSpace(cmd.ProviderOrderID)
	providerPaymentID := strings.TrimSpace(cmd.ProviderPaymentID)
	if providerOrderID == "" || providerPaymentID == "" || strings.TrimSpace(cmd.Signature) == "" {
		return Order{}, fmt.Errorf("%w: provider order id, payment id and signature are required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.BuyerID != cmd.Actor.UserID && !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: order %s", ErrPaymentForbidden, order.ID)
	}

	payload := providerOrderID + "|" + providerPaymentID
	if !auth.VerifySignature(s.keySecret, []byte(payload), cmd.Signature) {
		s.markFailed(ctx, order.ID, true)
		return Order{}, fmt.Errorf("%w: signature mismatch for order %s", ErrPaymentVerificationFailed, order.ID)
	}

	details, err := s.provider.FetchPayment(ctx, providerPaymentID)
	if err != nil {
		s.markFailed(ctx, order.ID, true)
		if errors.Is(err, payments.ErrPaymentNotFound) {
			return Order{}, fmt.Errorf("%w: unknown payment %s", ErrPaymentVerificationFailed, providerPaymentID)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}
	if !details.Status.Settled() {
		s.markFailed(ctx, order.ID, true)
		return Order{}, fmt.Errorf("%w: payment %s is %s", ErrPaymentVerificationFailed, providerPaymentID, details.Status)
	}
	if expected := domain.AmountInPaise(order.Totals.Total); details.AmountPaise != expected {
		s.markFailed(ctx, order.ID, true)
		return Order{}, fmt.Errorf("%w: amount mismatch, expected %d paise got %d", ErrPaymentVerificationFailed, expected, details.AmountPaise)
	}

	if order.PaymentStatus == domain.PaymentStatusCompleted {
		// A concurrent webhook already settled this order.
		return order, nil
	}

	return s.settle(ctx, order, providerOrderID, providerPaymentID)
}

func (s *paymentService) HandleWebhook(ctx context.Context, cmd WebhookCommand) error {
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: empty webhook payload", ErrPaymentInvalidInput)
	}
	if !auth.VerifySignature(s.webhookSecret, cmd.Payload, cmd.Signature) {
		return fmt.Errorf("%w: webhook signature mismatch", ErrPaymentVerificationFailed)
	}

	var event webhookEvent
	if err := json.Unmarshal(cmd.Payload, &event); err != nil {
		return fmt.Errorf("%w: malformed webhook payload: %v", ErrPaymentInvalidInput, err)
	}
	entity := event.Payload.Payment.Entity

	switch event.Event {
	case "payment.captured":
		order, err := s.resolveWebhookOrder(ctx, entity)
		if err != nil {
			return err
		}
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			return nil
		}
		_, err = s.settle(ctx, order, entity.OrderID, entity.ID)
		if errors.Is(err, ErrPaymentConflict) {
			// The order left pending concurrently; redelivering the webhook
			// would not change that.
			return nil
		}
		return err
	case "payment.failed":
		order, err := s.resolveWebhookOrder(ctx, entity)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				// The order may have been purged already.
				return nil
			}
			return err
		}
		s.markFailed(ctx, order.ID, true)
		return nil
	default:
		// Unhandled event types are acknowledged without action.
		s.log(ctx, "payment.webhook_ignored", map[string]any{"event": event.Event})
		return nil
	}
}

func (s *paymentService) PaymentStatus(ctx context.Context, query PaymentStatusQuery) (PaymentStatusView, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return PaymentStatusView{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentStatusView{}, s.mapRepositoryError(err)
	}
	if order.BuyerID != query.Actor.UserID && !query.Actor.IsAdmin() {
		return PaymentStatusView{}, fmt.Errorf("%w: order %s", ErrPaymentForbidden, order.ID)
	}
	view := PaymentStatusView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
	}
	view.AmountPaise = order.Payment.AmountPaise
	return view, nil
}

func (s *paymentService) PurgeStalePayments(ctx context.Context, olderThan time.Time) (int, error) {
	deleted, err := s.orders.DeleteStalePending(ctx, repositories.StalePendingFilter{OlderThan: olderThan})
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return deleted, nil
}

// settle marks the order paid exactly once. Only the call that wins the
// compare-and-set commits stock, clears the cart and emits the paid event, so
// a webhook racing the checkout callback cannot double debit.
func (s *paymentService) settle(ctx context.Context, order Order, providerOrderID, providerPaymentID string) (Order, error) {
	if order.Status == domain.OrderStatusCancelled {
		// Funds were captured for an order that no longer exists commercially.
		// Settling would resurrect it and debit stock, so flag for manual
		// remediation instead.
		s.log(ctx, "payment.captured_after_cancellation", map[string]any{
			"orderId":           order.ID,
			"orderNumber":       order.OrderNumber,
			"providerOrderId":   providerOrderID,
			"providerPaymentId": providerPaymentID,
		})
		return Order{}, fmt.Errorf("%w: order %s is cancelled and cannot be settled", ErrPaymentConflict, order.ID)
	}

	now := s.clock()
	record := domain.PaymentRecord{
		ProviderOrderID:   providerOrderID,
		ProviderPaymentID: providerPaymentID,
		AmountPaise:       domain.AmountInPaise(order.Totals.Total),
		VerifiedAt:        &now,
	}

	won, err := s.orders.MarkPaid(ctx, order.ID, record, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order.PaymentStatus = domain.PaymentStatusCompleted
	order.Payment = record
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusProcessing
	}
	order.UpdatedAt = now

	if !won {
		return order, nil
	}

	s.debitPaidLines(ctx, order)
	s.clearCart(ctx, order.BuyerID)
	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventPaid,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Metadata: map[string]string{
			"providerOrderId":   providerOrderID,
			"providerPaymentId": providerPaymentID,
		},
		OccurredAt: now,
	})
	return order, nil
}

// debitPaidLines commits stock for a settled online order. Money has already
// changed hands, so a shortfall here is logged and flagged on the event stream
// for manual remediation rather than failing the payment.
func (s *paymentService) debitPaidLines(ctx context.Context, order Order) {
	for _, line := range order.Items {
		if err := s.gems.ReserveAndDebit(ctx, line.GemID, line.Quantity); err != nil {
			s.log(ctx, "payment.stock_debit_failed", map[string]any{
				"orderId":  order.ID,
				"gemId":    line.GemID,
				"quantity": line.Quantity,
				"error":    err.Error(),
			})
			s.publishEvent(ctx, OrderEvent{
				Type:        OrderEventDebitShort,
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				Metadata: map[string]string{
					"gemId": line.GemID,
					"error": err.Error(),
				},
				OccurredAt: s.clock(),
			})
		}
	}
}

func (s *paymentService) resolveWebhookOrder(ctx context.Context, entity webhookPaymentEntity) (Order, error) {
	if orderID := strings.TrimSpace(entity.Notes.OrderID); orderID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err == nil {
			return order, nil
		}
		if !isNotFound(err) {
			return Order{}, s.mapRepositoryError(err)
		}
	}
	if entity.OrderID == "" {
		return Order{}, fmt.Errorf("%w: webhook carries no order reference", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByProviderOrderID(ctx, entity.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// markFailed records a failed payment attempt. When onlyIfPending is set a
// completed payment is never downgraded.
func (s *paymentService) markFailed(ctx context.Context, orderID string, onlyIfPending bool) {
	if err := s.orders.SetPaymentFailed(ctx, orderID, onlyIfPending); err != nil {
		s.log(ctx, "payment.mark_failed_error", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) clearCart(ctx context.Context, buyerID string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, buyerID); err != nil {
		s.log(ctx, "payment.cart_clear_failed", map[string]any{
			"buyerId": buyerID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.log(ctx, "payment.event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) log(ctx context.Context, event string, fields map[string]any) {
	if s.logger != nil {
		s.logger(ctx, event, fields)
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict, ErrPaymentUnavailable)
}

// webhookEvent mirrors the provider's webhook envelope.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity webhookPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookPaymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Notes   struct {
		OrderID     string `json:"orderId"`
		OrderNumber string `json:"orderNumber"`
		UserID      string `json:"userId"`
	} `json:"notes"`
}
