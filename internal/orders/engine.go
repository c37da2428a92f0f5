package orders

import (
	"fmt"
	"log/slog"
	"sort"

	"p2precon/internal/model"
)

// OverrideApplier overlays locally held reconciliation state onto orders.
type OverrideApplier interface {
	ApplyAll(orders []model.Order) ([]model.Order, error)
}

// Engine merges orders from any source with local overrides and produces
// filtered, paginated views over the result.
type Engine struct {
	overrides OverrideApplier
}

func NewEngine(overrides OverrideApplier) *Engine {
	return &Engine{overrides: overrides}
}

// Merge de-duplicates by id (a later record replaces an earlier one in place)
// and applies stored overrides. Fresh data wins for business fields and stored
// overrides win for reconciliation fields.
func (e *Engine) Merge(batches ...[]model.Order) ([]model.Order, error) {
	index := make(map[string]int)
	var merged []model.Order
	for _, batch := range batches {
		for _, o := range batch {
			if i, ok := index[o.ID]; ok {
				merged[i] = o
				continue
			}
			index[o.ID] = len(merged)
			merged = append(merged, o)
		}
	}

	if e.overrides == nil {
		return merged, nil
	}
	out, err := e.overrides.ApplyAll(merged)
	if err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	return out, nil
}

// Query merges, sorts newest first, filters and paginates.
func (e *Engine) Query(orders []model.Order, c Criteria) (model.OrdersPage, error) {
	merged, err := e.Merge(orders)
	if err != nil {
		return model.OrdersPage{}, err
	}
	SortNewestFirst(merged)
	page := Paginate(Filter(merged, c.Predicates()...), c.Page, c.PerPage)

	if c.HasDateBound() {
		undated := c
		undated.StartDate, undated.EndDate = nil, nil
		for _, o := range Filter(merged, undated.Predicates()...) {
			if _, ok := o.CreatedAt(); !ok {
				page.Undated++
			}
		}
		if page.Undated > 0 {
			slog.Debug("orders with unparsable create_date excluded by date bounds", "count", page.Undated)
		}
	}
	return page, nil
}

// SortNewestFirst orders by create_date descending; unparsable dates sort last,
// ties fall back to order_id.
func SortNewestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		ti, oki := orders[i].CreatedAt()
		tj, okj := orders[j].CreatedAt()
		switch {
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		case oki && okj && !ti.Equal(tj):
			return ti.After(tj)
		}
		return orders[i].OrderID > orders[j].OrderID
	})
}

// Statuses lists the distinct status labels in orders, sorted.
func Statuses(orders []model.Order) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, o := range orders {
		if o.Status == "" {
			continue
		}
		if _, ok := seen[o.Status]; ok {
			continue
		}
		seen[o.Status] = struct{}{}
		out = append(out, o.Status)
	}
	sort.Strings(out)
	return out
}
