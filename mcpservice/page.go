package mcpservice

import "strconv"

// Page is one page of a paginated capability result. Items is never nil;
// NewPage normalizes nil input to an empty slice.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page built by NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks the page as partial and records where the next page
// starts.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}

// NewPage builds a Page from items and options.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// parseCursor interprets a cursor as a start offset. Anything unparseable
// restarts from the beginning rather than failing the request.
func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// pageOf copies the window [start, start+size) out of all and wraps it in a
// Page with a continuation cursor when more items remain.
func pageOf[T any](all []T, cursor *string, size int) Page[T] {
	if size <= 0 {
		size = defaultPageSize
	}
	start := parseCursor(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}

const defaultPageSize = 50
