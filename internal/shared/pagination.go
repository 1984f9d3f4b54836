package shared

// MaxPageLimit caps the number of items a single page may carry.
const MaxPageLimit = 500

// Pagination contains metadata for paginated listings.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasPrev     bool `json:"hasPrev"`
	HasNext     bool `json:"hasNext"`
}

// Page is one slice of an ordered sequence plus its metadata.
type Page[T any] struct {
	Items []T
	Pagination
}

// NewPagination computes pagination metadata.
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
	}
}

// Paginate slices items into the requested page. Pages past the end are empty, so
// concatenating pages 1..TotalPages yields items exactly once and in order.
func Paginate[T any](items []T, page, limit int) (Page[T], error) {
	if page < 1 {
		return Page[T]{}, Validationf("page must be >= 1, got %d", page)
	}
	if limit < 1 {
		return Page[T]{}, Validationf("limit must be >= 1, got %d", limit)
	}
	meta := NewPagination(page, limit, len(items))
	start := (page - 1) * limit
	if start >= len(items) {
		return Page[T]{Items: []T{}, Pagination: meta}, nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return Page[T]{Items: out, Pagination: meta}, nil
}
