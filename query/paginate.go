package query

import (
	repository "github.com/goliatone/go-repository-bun"
)

// DefaultLimit is the page size used when the caller supplies none.
const DefaultLimit = 10

// Paging is the caller-facing pagination request. A negative offset selects
// the last page.
type Paging struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Window is the resolved pagination window returned alongside a page of
// rows. RowsFound counts all matching rows before windowing.
type Window struct {
	Offset    int `json:"offset"`
	Limit     int `json:"limit"`
	RowsFound int `json:"rows_found"`
}

// Resolve normalizes the request against the total row count. A limit that
// is zero or negative is coerced to DefaultLimit; a negative offset resolves
// to the start of the last page, or zero when nothing matched.
func (p Paging) Resolve(rowsFound int) Window {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	offset := p.Offset
	if offset < 0 {
		switch {
		case rowsFound <= 0:
			offset = 0
		case rowsFound%limit == 0:
			offset = (rowsFound/limit - 1) * limit
		default:
			offset = rowsFound / limit * limit
		}
	}

	return Window{
		Offset:    offset,
		Limit:     limit,
		RowsFound: rowsFound,
	}
}

// Criteria renders the resolved window as a select criteria.
func (w Window) Criteria() repository.SelectCriteria {
	return repository.SelectPaginate(w.Limit, w.Offset)
}
