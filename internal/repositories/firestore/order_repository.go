package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ratnakart/api/internal/domain"
	pfirestore "github.com/ratnakart/api/internal/platform/firestore"
	"github.com/ratnakart/api/internal/platform/pagination"
	"github.com/ratnakart/api/internal/repositories"
)

const (
	ordersCollection = "orders"
	defaultPageSize  = 20
	maxPageSize      = 100
)

type orderItemDocument struct {
	GemID          string  `firestore:"gemId"`
	SellerID       string  `firestore:"sellerId"`
	Name           string  `firestore:"name"`
	Category       string  `firestore:"category"`
	ImageURL       string  `firestore:"imageUrl,omitempty"`
	UnitPrice      float64 `firestore:"unitPrice"`
	Quantity       int64   `firestore:"quantity"`
	ItemTotal      float64 `firestore:"itemTotal"`
	PriceBeforeTax float64 `firestore:"priceBeforeTax"`
	GSTRate        float64 `firestore:"gstRate"`
	GSTAmount      float64 `firestore:"gstAmount"`
}

type taxBreakdownDocument struct {
	Rate          float64 `firestore:"rate"`
	TaxableAmount float64 `firestore:"taxableAmount"`
	TaxAmount     float64 `firestore:"taxAmount"`
}

type shippingAddressDocument struct {
	FullName string `firestore:"fullName"`
	Line1    string `firestore:"line1"`
	Line2    string `firestore:"line2,omitempty"`
	City     string `firestore:"city"`
	State    string `firestore:"state"`
	Pincode  string `firestore:"pincode"`
	Phone    string `firestore:"phone"`
}

type paymentRecordDocument struct {
	ProviderOrderID   string     `firestore:"providerOrderId,omitempty"`
	ProviderPaymentID string     `firestore:"providerPaymentId,omitempty"`
	AmountPaise       int64      `firestore:"amountPaise,omitempty"`
	VerifiedAt        *time.Time `firestore:"verifiedAt,omitempty"`
}

type orderDocument struct {
	OrderNumber      string                  `firestore:"orderNumber"`
	BuyerID          string                  `firestore:"buyerId"`
	SellerIDs        []string                `firestore:"sellerIds"`
	Items            []orderItemDocument     `firestore:"items"`
	Subtotal         float64                 `firestore:"subtotal"`
	Tax              float64                 `firestore:"tax"`
	Total            float64                 `firestore:"total"`
	TaxBreakdown     []taxBreakdownDocument  `firestore:"taxBreakdown,omitempty"`
	ShippingAddress  shippingAddressDocument `firestore:"shippingAddress"`
	PaymentMethod    string                  `firestore:"paymentMethod"`
	PaymentStatus    string                  `firestore:"paymentStatus"`
	Payment          paymentRecordDocument   `firestore:"payment"`
	Status           string                  `firestore:"status"`
	TrackingNumber   string                  `firestore:"trackingNumber,omitempty"`
	ExpectedDelivery *time.Time              `firestore:"expectedDelivery,omitempty"`
	CancelReason     string                  `firestore:"cancelReason,omitempty"`
	CancelledAt      *time.Time              `firestore:"cancelledAt,omitempty"`
	CreatedAt        time.Time               `firestore:"createdAt"`
	UpdatedAt        time.Time               `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		BuyerID:          order.BuyerID,
		SellerIDs:        order.SellerIDs(),
		Subtotal:         order.Totals.Subtotal,
		Tax:              order.Totals.Tax,
		Total:            order.Totals.Total,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		TrackingNumber:   order.TrackingNumber,
		ExpectedDelivery: order.ExpectedDelivery,
		CancelReason:     order.CancelReason,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		ShippingAddress: shippingAddressDocument{
			FullName: order.ShippingAddress.FullName,
			Line1:    order.ShippingAddress.Line1,
			Line2:    order.ShippingAddress.Line2,
			City:     order.ShippingAddress.City,
			State:    order.ShippingAddress.State,
			Pincode:  order.ShippingAddress.Pincode,
			Phone:    order.ShippingAddress.Phone,
		},
		Payment: paymentRecordDocument{
			ProviderOrderID:   order.Payment.ProviderOrderID,
			ProviderPaymentID: order.Payment.ProviderPaymentID,
			AmountPaise:       order.Payment.AmountPaise,
			VerifiedAt:        order.Payment.VerifiedAt,
		},
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			GemID:          item.GemID,
			SellerID:       item.SellerID,
			Name:           item.Name,
			Category:       string(item.Category),
			ImageURL:       item.ImageURL,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			ItemTotal:      item.ItemTotal,
			PriceBeforeTax: item.PriceBeforeTax,
			GSTRate:        item.GSTRate,
			GSTAmount:      item.GSTAmount,
		})
	}
	for _, entry := range order.TaxBreakdown {
		doc.TaxBreakdown = append(doc.TaxBreakdown, taxBreakdownDocument(entry))
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		BuyerID:          d.BuyerID,
		Totals:           domain.OrderTotals{Subtotal: d.Subtotal, Tax: d.Tax, Total: d.Total},
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		Status:           domain.OrderStatus(d.Status),
		TrackingNumber:   d.TrackingNumber,
		ExpectedDelivery: d.ExpectedDelivery,
		CancelReason:     d.CancelReason,
		CancelledAt:      d.CancelledAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		ShippingAddress: domain.ShippingAddress{
			FullName: d.ShippingAddress.FullName,
			Line1:    d.ShippingAddress.Line1,
			Line2:    d.ShippingAddress.Line2,
			City:     d.ShippingAddress.City,
			State:    d.ShippingAddress.State,
			Pincode:  d.ShippingAddress.Pincode,
			Phone:    d.ShippingAddress.Phone,
		},
		Payment: domain.PaymentRecord{
			ProviderOrderID:   d.Payment.ProviderOrderID,
			ProviderPaymentID: d.Payment.ProviderPaymentID,
			AmountPaise:       d.Payment.AmountPaise,
			VerifiedAt:        d.Payment.VerifiedAt,
		},
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			GemID:          item.GemID,
			SellerID:       item.SellerID,
			Name:           item.Name,
			Category:       domain.GemCategory(item.Category),
			ImageURL:       item.ImageURL,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			ItemTotal:      item.ItemTotal,
			PriceBeforeTax: item.PriceBeforeTax,
			GSTRate:        item.GSTRate,
			GSTAmount:      item.GSTAmount,
		})
	}
	for _, entry := range d.TaxBreakdown {
		order.TaxBreakdown = append(order.TaxBreakdown, domain.TaxBreakdownEntry(entry))
	}
	return order
}

// OrderRepository implements repositories.OrderRepository on Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	now      func() time.Time
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		provider: provider,
		base:     base,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Insert creates the order document. An existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document after confirming it exists.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads an order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByProviderOrderID resolves the order attached to a payment provider
// order, used by webhook reconciliation when metadata is missing.
func (r *OrderRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(providerOrderID)
	if id == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_provider_order", errors.New("provider order id is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.providerOrderId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFound("orders.find_by_provider_order", fmt.Sprintf("no order for provider order %s", id))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type orderPageToken struct {
	CreatedAt time.Time
	ID        string
}

// List returns a page of orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var token *orderPageToken
	if cursor := strings.TrimSpace(filter.Pagination.Cursor); cursor != "" {
		decoded, err := decodeOrderPageToken(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", fmt.Errorf("invalid cursor: %w", err))
		}
		token = decoded
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
			q = q.Where("buyerId", "==", buyer)
		}
		if seller := strings.TrimSpace(filter.SellerID); seller != "" {
			q = q.Where("sellerIds", "array-contains", seller)
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == limit {
			last := docs[limit-1]
			next, err := encodeOrderPageToken(orderPageToken{CreatedAt: last.Data.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
			}
			page.NextCursor = next
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// SetPaymentIntent stamps the provider order created for an online payment.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, orderID string, providerOrderID string, amountPaise int64) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	_, err := r.base.Update(ctx, strings.TrimSpace(orderID), []firestore.Update{
		{Path: "payment.providerOrderId", Value: strings.TrimSpace(providerOrderID)},
		{Path: "payment.amountPaise", Value: amountPaise},
		{Path: "updatedAt", Value: r.now()},
	})
	return err
}

// SetPaymentFailed marks the payment failed. With onlyIfPending the write is
// skipped once the payment is no longer pending, so a late failure event can
// never downgrade a completed payment.
func (r *OrderRepository) SetPaymentFailed(ctx context.Context, orderID string, onlyIfPending bool) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	now := r.now()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if onlyIfPending && doc.PaymentStatus != string(domain.PaymentStatusPending) {
			return nil
		}
		if doc.PaymentStatus == string(domain.PaymentStatusCompleted) {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "paymentStatus", Value: string(domain.PaymentStatusFailed)},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return pfirestore.WrapError("orders.set_payment_failed", err)
	}
	return nil
}

// MarkPaid completes the payment and moves the order to processing inside a
// single transaction. The boolean result is true only for the call that
// performed the transition; a payment that is already completed leaves the
// document untouched.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, payment domain.PaymentRecord, at time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return false, errors.New("order repository: order id is required")
	}

	var won bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		won = false
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if doc.PaymentStatus == string(domain.PaymentStatusCompleted) {
			return nil
		}
		if doc.Status != string(domain.OrderStatusPending) {
			return pfirestore.NewConflict("orders.mark_paid", fmt.Sprintf("order %s is %s and can no longer be settled", id, doc.Status))
		}
		verifiedAt := at.UTC()
		updates := []firestore.Update{
			{Path: "paymentStatus", Value: string(domain.PaymentStatusCompleted)},
			{Path: "status", Value: string(domain.OrderStatusProcessing)},
			{Path: "payment.verifiedAt", Value: verifiedAt},
			{Path: "updatedAt", Value: verifiedAt},
		}
		if pid := strings.TrimSpace(payment.ProviderPaymentID); pid != "" {
			updates = append(updates, firestore.Update{Path: "payment.providerPaymentId", Value: pid})
		}
		if poid := strings.TrimSpace(payment.ProviderOrderID); poid != "" {
			updates = append(updates, firestore.Update{Path: "payment.providerOrderId", Value: poid})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("orders.mark_paid", err)
	}
	return won, nil
}

// DeleteStalePending removes abandoned online orders whose payment never
// completed. Completed payments are excluded by the status filter.
func (r *OrderRepository) DeleteStalePending(ctx context.Context, filter repositories.StalePendingFilter) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("order repository not initialised")
	}
	if filter.OlderThan.IsZero() {
		return 0, errors.New("order repository: olderThan is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
			q = q.Where("buyerId", "==", buyer)
		}
		return q.
			Where("paymentMethod", "==", string(domain.PaymentMethodOnline)).
			Where("paymentStatus", "in", []string{
				string(domain.PaymentStatusPending),
				string(domain.PaymentStatusFailed),
			}).
			Where("createdAt", "<", filter.OlderThan.UTC())
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, doc := range docs {
		ref, err := r.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			return deleted, err
		}
		if _, err := ref.Delete(ctx); err != nil {
			return deleted, pfirestore.WrapError("orders.delete_stale", err)
		}
		deleted++
	}
	return deleted, nil
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	rawCreatedAt, okCreatedAt := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okCreatedAt || !okID {
		return nil, fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return &orderPageToken{CreatedAt: createdAt, ID: id}, nil
}
