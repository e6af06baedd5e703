package humastar

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// SearchPath is the query endpoint advertised with rel="search".
const SearchPath = "/api/v1/features"

// EntryPath is the API entry point linking to every collection.
const EntryPath = "/health"

// linkSet holds generated RFC 8288 Link header values keyed by operation
// path. It is rebuilt by AutoLinks and read on every response.
type linkSet struct {
	mu   sync.RWMutex
	byOp map[string][]string
}

var links = &linkSet{}

func (s *linkSet) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(s.byOp[from], val) {
		s.byOp[from] = append(s.byOp[from], val)
	}
}

// AutoLinks derives hypermedia links from the registered operations.
// Call after all routes are registered. Editor (SSE) operations are
// skipped.
//
//   - item → parent collection: rel="collection" and rel="up"
//   - collection → item template: rel="item"
//   - collection → entry point: rel="up"; entry point → collections by name
//   - collection → feature query: rel="search"
//   - POST collection: rel="create-form"; PUT item: rel="edit"
func AutoLinks(api huma.API) {
	oapi := api.OpenAPI()

	var collections, items []string
	for _, p := range slices.Sorted(maps.Keys(oapi.Paths)) {
		if slices.Contains(primaryTags(oapi.Paths[p]), "editor") {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}

	links.mu.Lock()
	defer links.mu.Unlock()
	links.byOp = map[string][]string{}

	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; ok {
			links.add(item, parent, "collection")
			links.add(item, parent, "up")
		}
		if pi := oapi.Paths[item]; pi.Put != nil || pi.Patch != nil {
			links.add(item, item, "edit")
		}
	}

	_, hasSearch := oapi.Paths[SearchPath]
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item) == coll {
				links.add(coll, item, "item")
			}
		}
		if oapi.Paths[coll].Post != nil {
			links.add(coll, coll, "create-form")
		}
		if coll == EntryPath {
			continue
		}
		links.add(coll, EntryPath, "up")
		links.add(EntryPath, coll, lastSegment(coll))
		if hasSearch && coll != SearchPath {
			links.add(coll, SearchPath, "search")
		}
	}
	links.add(EntryPath, "/openapi.json", "service-desc")
	links.add(EntryPath, "/docs", "service-doc")
	if hasSearch {
		links.add(EntryPath, SearchPath, "search")
	}

	// Document the relations on the operations' success responses too.
	for p, pi := range oapi.Paths {
		for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
			if op != nil {
				injectResponseLinks(op, links.byOp[p])
			}
		}
	}
}

// Links returns the generated Link headers of an operation path, for
// handlers whose raw bodies bypass transformers.
func Links(opPath string) []string {
	links.mu.RLock()
	defer links.mu.RUnlock()
	return slices.Clone(links.byOp[opPath])
}

// LinkTransformer returns a Huma Transformer that sets the generated Link
// headers, a self link on item endpoints, and the pagination and action
// links the response body provides.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range Links(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			u := ctx.URL()
			for _, link := range p.PaginationLinks(&u) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil || len(headers) == 0 {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  "Related: " + rel,
		}
	}
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if v, ok := strings.CutPrefix(params, `rel="`); ok {
		rel = strings.TrimSuffix(v, `"`)
	}
	return rel, href
}
