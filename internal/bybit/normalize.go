package bybit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"p2precon/internal/model"
)

var statusLabels = map[int]string{
	5:   "Waiting for chain",
	10:  "Waiting for buyer to pay",
	20:  "Waiting for seller to release",
	30:  "Appealing",
	40:  "Order canceled",
	50:  "Order finished",
	60:  "Paying (online)",
	70:  "Pay failed (online)",
	80:  "Exception canceled (hotswap)",
	90:  "Waiting for buyer to select tokenId",
	100: "Objectioning",
	110: "Waiting for user to raise objection",
}

// StatusLabel maps an exchange status code to its label; unknown codes never fail.
func StatusLabel(code int) string {
	if label, ok := statusLabels[code]; ok {
		return label
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// StatusCodes lists the known status codes in ascending order.
func StatusCodes() []int {
	return []int{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110}
}

// Normalize converts a raw exchange order into the canonical model. The result is
// always unreconciled; local overrides are merged later.
func Normalize(raw RawOrder, now time.Time) model.Order {
	status := -1
	if raw.Status != nil {
		status = int(*raw.Status)
	}

	side := model.SideSell
	if raw.Side != nil && *raw.Side == 0 {
		side = model.SideBuy
	}

	return model.Order{
		ID:                  raw.ID,
		OrderID:             raw.ID,
		Side:                side,
		Status:              StatusLabel(status),
		TokenID:             string(raw.TokenID),
		Price:               string(raw.Price),
		NotifyTokenQuantity: string(raw.NotifyTokenQuantity),
		TargetNickname:      string(raw.TargetNickName),
		CreateDate:          convertTimestamp(string(raw.CreateDate), now),
		SellerRealName:      string(raw.SellerRealName),
		BuyerRealName:       string(raw.BuyerRealName),
		Amount:              string(raw.Amount),
	}
}

// convertTimestamp turns a millisecond epoch string into ISO-8601 UTC, falling
// back to now when absent or unparsable.
func convertTimestamp(ms string, now time.Time) string {
	ms = strings.TrimSpace(ms)
	if ms == "" {
		return model.FormatTime(now)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return model.FormatTime(now)
	}
	return model.FormatTime(time.UnixMilli(n))
}
