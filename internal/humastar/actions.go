package humastar

import (
	"fmt"
	"net/url"
	"strings"
)

// Action is a link to something the client may do with the resource in
// its current state, sent as
//
//	<url>; rel="data"; method="GET"; title="Features as GeoJSON"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that carry actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value with
// method and title extension parameters.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		fmt.Fprintf(&b, `; method="%s"`, a.Method)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, `; title="%s"`, a.Title)
	}
	return b.String()
}

// ActionDef is an action template; Pattern holds one %s for the resource id.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// ActionsFor fills defs with id, path-escaped.
func ActionsFor(id string, defs []ActionDef) []Action {
	escaped := url.PathEscape(id)
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   fmt.Sprintf(d.Pattern, escaped),
			Method: d.Method,
			Title:  d.Title,
		})
	}
	return actions
}
