package model

import (
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 form used for create_date: UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case and the exchange's numeric codes (0 buy, 1 sell).
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "0":
		return SideBuy, true
	case "SELL", "1":
		return SideSell, true
	}
	return "", false
}

type Order struct {
	ID                  string     `json:"id"`
	OrderID             string     `json:"order_id"`
	Side                Side       `json:"side"`
	Status              string     `json:"status"`
	TokenID             string     `json:"token_id"`
	Price               string     `json:"price"`
	NotifyTokenQuantity string     `json:"notify_token_quantity"`
	TargetNickname      string     `json:"target_nickname"`
	CreateDate          string     `json:"create_date"`
	SellerRealName      string     `json:"seller_real_name"`
	BuyerRealName       string     `json:"buyer_real_name"`
	Amount              string     `json:"amount"`
	Reconciled          bool       `json:"reconciled"`
	ReconciledBy        *string    `json:"reconciled_by,omitempty"`
	ReconciledAt        *time.Time `json:"reconciled_at,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
}

// CreatedAt parses CreateDate. Imported rows may carry unparsable text, reported as ok=false.
func (o Order) CreatedAt() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, o.CreateDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Override returns the reconciliation part of the order.
func (o Order) Override() Override {
	return Override{
		Reconciled:   o.Reconciled,
		ReconciledBy: o.ReconciledBy,
		ReconciledAt: o.ReconciledAt,
		Notes:        o.Notes,
	}
}

// WithOverride replaces the reconciliation fields and leaves business fields untouched.
func (o Order) WithOverride(ov Override) Order {
	o.Reconciled = ov.Reconciled
	o.ReconciledBy = ov.ReconciledBy
	o.ReconciledAt = ov.ReconciledAt
	o.Notes = ov.Notes
	return o
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Source identifies where an order set came from.
type Source string

const (
	SourceAPI   Source = "api"
	SourceStore Source = "store"
	SourceCSV   Source = "csv"
	SourceDemo  Source = "demo"
)

type OrdersPage struct {
	Orders      []Order `json:"orders"`
	Total       int     `json:"total"`
	Pages       int     `json:"pages"`
	CurrentPage int     `json:"current_page"`
	// Undated counts orders left out only because a date bound was set and
	// their create_date could not be parsed.
	Undated     int     `json:"undated,omitempty"`
	Source      Source  `json:"source,omitempty"`
}
