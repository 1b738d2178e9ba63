package calendar

// Page — одна страница списка (свободных слотов, записей).
type Page[T any] struct {
	Items    []T
	Page     int // с 1
	PageSize int
	Pages    int
	Total    int
	HasNext  bool
	HasPrev  bool
}

const defaultPageSize = 10

// Paginate режет items на страницы. Номер за пределами списка прижимается
// к последней странице: список мог сократиться, пока пользователь листал.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	total := len(items)
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	switch {
	case page <= 0:
		page = 1
	case page > pages:
		page = pages
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, total)

	return Page[T]{
		Items:    items[start:end],
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
		Total:    total,
		HasNext:  page < pages,
		HasPrev:  page > 1,
	}
}

// Rows раскладывает items по строкам не длиннее width (клавиатуры бота).
func Rows[T any](items []T, width int) [][]T {
	if width <= 0 || len(items) == 0 {
		return nil
	}
	rows := make([][]T, 0, (len(items)+width-1)/width)
	for start := 0; start < len(items); start += width {
		rows = append(rows, items[start:min(start+width, len(items))])
	}
	return rows
}
