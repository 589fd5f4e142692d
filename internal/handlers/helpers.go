package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/platform/auth"
	"github.com/ratnakart/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// actorFromContext maps the gateway identity to a service actor.
func actorFromContext(r *http.Request) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}, false
	}
	return services.Actor{UserID: identity.UID, Roles: identity.Roles}, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type addressPayload struct {
	FullName string `json:"full_name"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Phone    string `json:"phone"`
}

type orderItemPayload struct {
	GemID          string  `json:"gem_id"`
	SellerID       string  `json:"seller_id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	ImageURL       string  `json:"image_url,omitempty"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int64   `json:"quantity"`
	ItemTotal      float64 `json:"item_total"`
	PriceBeforeTax float64 `json:"price_before_tax"`
	GSTRate        float64 `json:"gst_rate"`
	GSTAmount      float64 `json:"gst_amount"`
}

type orderTotalsPayload struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

type taxBreakdownPayload struct {
	Rate          float64 `json:"rate"`
	TaxableAmount float64 `json:"taxable_amount"`
	TaxAmount     float64 `json:"tax_amount"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"order_number"`
	BuyerID          string                `json:"buyer_id"`
	Status           string                `json:"status"`
	PaymentMethod    string                `json:"payment_method"`
	PaymentStatus    string                `json:"payment_status"`
	Items            []orderItemPayload    `json:"items"`
	Totals           orderTotalsPayload    `json:"totals"`
	TaxBreakdown     []taxBreakdownPayload `json:"tax_breakdown"`
	ShippingAddress  addressPayload        `json:"shipping_address"`
	TrackingNumber   string                `json:"tracking_number,omitempty"`
	ExpectedDelivery string                `json:"expected_delivery,omitempty"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	CancelledAt      string                `json:"cancelled_at,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
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

	breakdown := make([]taxBreakdownPayload, 0, len(order.TaxBreakdown))
	for _, entry := range order.TaxBreakdown {
		breakdown = append(breakdown, taxBreakdownPayload{
			Rate:          entry.Rate,
			TaxableAmount: entry.TaxableAmount,
			TaxAmount:     entry.TaxAmount,
		})
	}

	return orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Items:         items,
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		TaxBreakdown: breakdown,
		ShippingAddress: addressPayload{
			FullName: order.ShippingAddress.FullName,
			Line1:    order.ShippingAddress.Line1,
			Line2:    order.ShippingAddress.Line2,
			City:     order.ShippingAddress.City,
			State:    order.ShippingAddress.State,
			Pincode:  order.ShippingAddress.Pincode,
			Phone:    order.ShippingAddress.Phone,
		},
		TrackingNumber:   order.TrackingNumber,
		ExpectedDelivery: formatTimePointer(order.ExpectedDelivery),
		CancelReason:     order.CancelReason,
		CancelledAt:      formatTimePointer(order.CancelledAt),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
}
