package orders

import (
	"strings"

	"github.com/shopspring/decimal"

	"p2precon/internal/model"
)

// SideTotals aggregates one side of the book.
type SideTotals struct {
	Count    int             `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
	Quantity decimal.Decimal `json:"quantity"`
}

type Summary struct {
	Total        int        `json:"total"`
	Reconciled   int        `json:"reconciled"`
	Unreconciled int        `json:"unreconciled"`
	Buy          SideTotals `json:"buy"`
	Sell         SideTotals `json:"sell"`
	// Unpriced counts orders whose amount is not a number; they are excluded from totals.
	Unpriced int `json:"unpriced"`
}

// Summarize computes counts and per-side totals over orders.
func Summarize(orders []model.Order) Summary {
	s := Summary{
		Buy:  SideTotals{Amount: decimal.Zero, Quantity: decimal.Zero},
		Sell: SideTotals{Amount: decimal.Zero, Quantity: decimal.Zero},
	}

	for _, o := range orders {
		s.Total++
		if o.Reconciled {
			s.Reconciled++
		} else {
			s.Unreconciled++
		}

		side := &s.Sell
		if o.Side == model.SideBuy {
			side = &s.Buy
		}
		side.Count++

		amount, ok := ParseNumber(o.Amount)
		if !ok {
			s.Unpriced++
			continue
		}
		side.Amount = side.Amount.Add(amount)
		if qty, ok := ParseNumber(o.NotifyTokenQuantity); ok {
			side.Quantity = side.Quantity.Add(qty)
		}
	}
	return s
}

// ParseNumber reads numeric text such as "1,234.50" or "$12".
func ParseNumber(v string) (decimal.Decimal, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
