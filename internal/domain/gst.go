package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// GST rates by gem category, in percent. Listed prices are inclusive of GST,
// so checkout splits the listed amount rather than adding tax on top.
const (
	GSTRateRoughUnworked = 0.0
	GSTRateCutPolished   = 2.0
	GSTRateRoughDiamonds = 0.25
	GSTRateCutDiamonds   = 1.0
)

var gstRates = map[GemCategory]float64{
	GemCategoryRoughUnworked: GSTRateRoughUnworked,
	GemCategoryCutPolished:   GSTRateCutPolished,
	GemCategoryRoughDiamonds: GSTRateRoughDiamonds,
	GemCategoryCutDiamonds:   GSTRateCutDiamonds,
}

// ErrNegativeAmount is returned when a tax computation receives a negative
// amount or rate.
var ErrNegativeAmount = errors.New("gst: amount and rate must be non-negative")

// GSTRateFor returns the GST percentage for a gem category. Unknown or
// absent categories are untaxed.
func GSTRateFor(category GemCategory) float64 {
	if rate, ok := gstRates[category]; ok {
		return rate
	}
	return 0
}

// TaxInclusiveSplit decomposes a GST-inclusive amount into its pre-tax base
// and tax portion at the given percentage rate. Both results are rounded
// half up to two decimals. A zero rate returns the amount untouched.
func TaxInclusiveSplit(amount, rate float64) (priceBeforeTax, tax float64, err error) {
	if amount < 0 || rate < 0 {
		return 0, 0, fmt.Errorf("%w: amount=%.2f rate=%.2f", ErrNegativeAmount, amount, rate)
	}
	if rate == 0 {
		return roundMoney(amount), 0, nil
	}
	priceBeforeTax = roundMoney(amount / (1 + rate/100))
	tax = roundMoney(amount - priceBeforeTax)
	return priceBeforeTax, tax, nil
}

// PriceLineItem fills the tax fields of a line item from its unit price,
// quantity and category. The item total is computed first and the inclusive
// split applied to the total, not per unit.
func PriceLineItem(item *OrderLineItem) error {
	if item == nil {
		return errors.New("gst: item is required")
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: quantity=%d", ErrNegativeAmount, item.Quantity)
	}
	rate := GSTRateFor(item.Category)
	total := roundMoney(item.UnitPrice * float64(item.Quantity))
	base, tax, err := TaxInclusiveSplit(total, rate)
	if err != nil {
		return err
	}
	item.ItemTotal = total
	item.PriceBeforeTax = base
	item.GSTRate = rate
	item.GSTAmount = tax
	return nil
}

// SummarizeGST aggregates priced line items into an order-level summary with
// a per-rate breakdown. Zero-rate lines count toward the totals but do not
// appear in the breakdown.
func SummarizeGST(items []OrderLineItem) TaxSummary {
	var summary TaxSummary
	byRate := make(map[float64]*TaxBreakdownEntry)
	for _, item := range items {
		summary.Subtotal += item.PriceBeforeTax
		summary.TotalTax += item.GSTAmount
		summary.Total += item.ItemTotal
		if item.GSTRate == 0 {
			continue
		}
		entry, ok := byRate[item.GSTRate]
		if !ok {
			entry = &TaxBreakdownEntry{Rate: item.GSTRate}
			byRate[item.GSTRate] = entry
		}
		entry.TaxableAmount += item.PriceBeforeTax
		entry.TaxAmount += item.GSTAmount
	}
	summary.Subtotal = roundMoney(summary.Subtotal)
	summary.TotalTax = roundMoney(summary.TotalTax)
	summary.Total = roundMoney(summary.Total)
	for _, entry := range byRate {
		entry.TaxableAmount = roundMoney(entry.TaxableAmount)
		entry.TaxAmount = roundMoney(entry.TaxAmount)
		summary.Breakdown = append(summary.Breakdown, *entry)
	}
	sort.Slice(summary.Breakdown, func(i, j int) bool {
		return summary.Breakdown[i].Rate < summary.Breakdown[j].Rate
	})
	return summary
}

// roundMoney rounds to two decimals, half away from zero.
func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundMoney exposes the monetary rounding used throughout pricing.
func RoundMoney(v float64) float64 { return roundMoney(v) }

// AmountInPaise converts a rupee amount to integer paise for the payment
// provider.
func AmountInPaise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
