package orders

import (
	"strings"

	"p2precon/internal/model"
)

// Predicate reports whether an order passes one filter.
type Predicate func(model.Order) bool

// Predicates builds one independent predicate per constrained field. They are
// AND-combined and order-independent.
func (c Criteria) Predicates() []Predicate {
	var preds []Predicate

	if c.Search != nil {
		term := strings.ToLower(*c.Search)
		preds = append(preds, func(o model.Order) bool {
			for _, f := range []string{o.OrderID, o.BuyerRealName, o.SellerRealName, o.TargetNickname} {
				if strings.Contains(strings.ToLower(f), term) {
					return true
				}
			}
			return false
		})
	}

	if c.Side != nil {
		side := *c.Side
		preds = append(preds, func(o model.Order) bool { return o.Side == side })
	}

	if c.Status != nil {
		status := *c.Status
		preds = append(preds, func(o model.Order) bool { return o.Status == status })
	}

	if c.Reconciled != nil {
		want := *c.Reconciled
		preds = append(preds, func(o model.Order) bool { return o.Reconciled == want })
	}

	if c.StartDate != nil {
		start := *c.StartDate
		preds = append(preds, func(o model.Order) bool {
			t, ok := o.CreatedAt()
			return ok && !t.Before(start)
		})
	}

	if c.EndDate != nil {
		end := c.EndDate.AddDate(0, 0, 1)
		preds = append(preds, func(o model.Order) bool {
			t, ok := o.CreatedAt()
			return ok && t.Before(end)
		})
	}

	return preds
}

// Match reports whether o satisfies every predicate.
func Match(o model.Order, preds []Predicate) bool {
	for _, p := range preds {
		if !p(o) {
			return false
		}
	}
	return true
}

// Filter returns the orders matching all predicates, preserving input order.
func Filter(orders []model.Order, preds ...Predicate) []model.Order {
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if Match(o, preds) {
			out = append(out, o)
		}
	}
	return out
}
