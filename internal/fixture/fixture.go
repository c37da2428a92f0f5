// Package fixture generates the synthetic order set served when the exchange
// API is unconfigured or unreachable. Output depends only on the supplied clock.
package fixture

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"p2precon/internal/bybit"
	"p2precon/internal/model"
)

// Size is the number of synthetic orders.
const Size = 20

// Orders returns Size orders. The first five are dated today; the rest step
// back one to three weeks in a fixed pattern.
func Orders(now time.Time) []model.Order {
	codes := bybit.StatusCodes()
	out := make([]model.Order, 0, Size)
	for i := 0; i < Size; i++ {
		o := bybit.Normalize(raw(i, codes[i%len(codes)], now), now)
		o.OrderID = OrderID(i + 1)
		out = append(out, o)
	}
	return out
}

// Detail returns the synthetic order with the given id, if it is part of the set.
func Detail(id string, now time.Time) (model.Order, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n < 1 || n > Size {
		return model.Order{}, false
	}
	return Orders(now)[n-1], true
}

func raw(i, status int, now time.Time) bybit.RawOrder {
	daysAgo := 0
	if i >= 5 {
		daysAgo = (i*7)%29 + 1
	}
	created := now.AddDate(0, 0, -daysAgo).Add(-time.Duration(i) * time.Minute)

	side := i % 2
	price := 7 + float64(i%10)/100
	qty := float64(50 + i*25)

	return bybit.RawOrder{
		ID:                  strconv.Itoa(i + 1),
		Side:                bybit.Code(side),
		Status:              bybit.Code(status),
		TokenID:             "USDT",
		Price:               bybit.FlexString(fmt.Sprintf("%.2f", price)),
		NotifyTokenQuantity: bybit.FlexString(fmt.Sprintf("%.2f", qty)),
		TargetNickName:      bybit.FlexString(fmt.Sprintf("user%d", i)),
		CreateDate:          bybit.FlexString(strconv.FormatInt(created.UnixMilli(), 10)),
		SellerRealName:      bybit.FlexString(fmt.Sprintf("Seller %d", i)),
		BuyerRealName:       bybit.FlexString(fmt.Sprintf("Buyer %d", i)),
		Amount:              bybit.FlexString(fmt.Sprintf("%.2f", price*qty)),
	}
}

// OrderID is the exchange-visible id shown for synthetic order n (1-based).
func OrderID(n int) string {
	return fmt.Sprintf("ORD-%d", 100000+n-1)
}
