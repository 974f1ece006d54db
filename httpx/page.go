package httpx

import (
	"net/http"
	"strconv"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageParams is a 1-indexed page request.
type PageParams struct {
	Page     int
	PageSize int
}

func (p PageParams) Offset() int { return (p.Page - 1) * p.PageSize }

// ParsePage reads page and pageSize from the query string.
func ParsePage(r *http.Request) (PageParams, error) {
	p := PageParams{Page: 1, PageSize: DefaultPageSize}
	v := map[string]string{}
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			v["page"] = "must_be_positive"
		} else {
			p.Page = n
		}
	}
	if s := q.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxPageSize {
			v["pageSize"] = "out_of_range"
		} else {
			p.PageSize = n
		}
	}
	if len(v) > 0 {
		return p, Validation(v)
	}
	return p, nil
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// Page is the list response envelope.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func NewPage[T any](items []T, p PageParams, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.PageSize > 0 {
		pages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return Page[T]{
		Data: items,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: pages,
		},
	}
}
