package orders

import "p2precon/internal/model"

// Paginate slices an already filtered set. Total and page count describe the
// filtered set; a page past the end yields an empty slice.
func Paginate(filtered []model.Order, page, perPage int) model.OrdersPage {
	if page < 1 {
		page = DefaultPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	total := len(filtered)
	pages := (total + perPage - 1) / perPage

	// the offset is only computed for pages inside the set
	start, end := total, total
	if page-1 < pages {
		start = (page - 1) * perPage
		end = min(start+perPage, total)
	}

	slice := make([]model.Order, end-start)
	copy(slice, filtered[start:end])

	return model.OrdersPage{
		Orders:      slice,
		Total:       total,
		Pages:       pages,
		CurrentPage: page,
	}
}
