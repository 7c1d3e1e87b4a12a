package search

// PerPage is the fixed number of hits per result page.
const PerPage = 10

// MaxPage is the highest page a demand can ask for.
const MaxPage = 1000

// pageWindow is the maximum number of page links rendered at once.
const pageWindow = 15

// Pagination describes one result page. Next is 0 on the last page and
// Prev is 0 on the first.
type Pagination struct {
	CurrentPage    int `json:"currentPage"`
	Prev           int `json:"prev"`
	Next           int `json:"next"`
	TotalResults   int `json:"totalResults"`
	TotalPages     int `json:"totalPages"`
	StartingAtItem int `json:"startingAtItem"`
	EndingAtItem   int `json:"endingAtItem"`
}

// Paginate computes the pagination of page for total hits. Pages below 1
// are treated as the first page and pages above MaxPage as MaxPage.
func Paginate(page, total int) Pagination {
	page = clampPage(page)
	p := Pagination{
		CurrentPage:  page,
		Prev:         page - 1,
		TotalResults: total,
		TotalPages:   (total + PerPage - 1) / PerPage,
		EndingAtItem: min(page*PerPage, total),
	}
	if page*PerPage < total {
		p.Next = page + 1
	}
	if total > 0 {
		p.StartingAtItem = (page-1)*PerPage + 1
	}
	return p
}

func clampPage(page int) int {
	return min(max(page, 1), MaxPage)
}

// Offset is the number of hits before the current page.
func (p Pagination) Offset() int {
	return (p.CurrentPage - 1) * PerPage
}

// Pages returns the page numbers to link from p.
func (p Pagination) Pages() []int {
	return PageWindow(p.CurrentPage, p.TotalPages)
}

// PageWindow returns at most 15 page numbers around current. Up to page 7
// the window starts at the first page; later it runs from current-7 to
// current+6, cut off at the last page. A current page too far past the
// last page yields no window.
func PageWindow(current, totalPages int) []int {
	if totalPages <= 0 {
		return nil
	}
	first, last := 1, min(pageWindow, totalPages)
	if totalPages > pageWindow && current > 7 {
		first = max(current-7, 1)
		last = min(current+6, totalPages)
	}
	if first > last {
		return nil
	}
	pages := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		pages = append(pages, i)
	}
	return pages
}
