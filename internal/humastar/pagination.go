package humastar

import (
	"fmt"
	"net/url"
	"strconv"
)

// Pager is implemented by response bodies that carry pagination metadata.
type Pager interface {
	PaginationLinks(u *url.URL) []string
}

// Page is the pagination state of one response. A zero Limit means the
// page holds everything from Offset on, so only first is emitted.
type Page struct {
	Total  int `json:"total" doc:"Total number of items"`
	Offset int `json:"offset" doc:"Current offset"`
	Limit  int `json:"limit" doc:"Page size, 0 for unlimited"`
}

// PageBody is a generic paginated response envelope.
type PageBody[T any] struct {
	Page
	Data []T `json:"data" doc:"Items"`
}

// PaginationLinks returns RFC 8288 Link header values for pagination rels.
// Every query parameter of u other than offset and limit is kept.
func (p Page) PaginationLinks(u *url.URL) []string {
	link := func(offset int, rel string) string {
		q := u.Query()
		q.Set("offset", strconv.Itoa(offset))
		if p.Limit > 0 {
			q.Set("limit", strconv.Itoa(p.Limit))
		} else {
			q.Del("limit")
		}
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, u.Path, q.Encode(), rel)
	}

	links := []string{link(0, "first")}
	if p.Limit <= 0 {
		return links
	}

	if p.Offset > 0 {
		links = append(links, link(max(p.Offset-p.Limit, 0), "prev"))
	}
	if p.Offset+p.Limit < p.Total {
		links = append(links, link(p.Offset+p.Limit, "next"))
	}
	last := max((p.Total-1)/p.Limit*p.Limit, 0)
	return append(links, link(last, "last"))
}

// Slice applies offset and limit to items.
func Slice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
