// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE) and
// derives RFC 8288 Link headers from the OpenAPI document.
//
// Editor handlers stream through [Stream]:
//
//	func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return humastar.Stream(func(sse humastar.SSE) {
//	        sse.Signals(map[string]any{"lastChange": ev})
//	    }), nil
//	}
//
// REST handlers get links through [LinkTransformer]: generated relations
// from [AutoLinks], pagination from bodies implementing [Pager] and
// state-dependent actions from bodies implementing [Actor].
package humastar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/starfederation/datastar-go/datastar"
)

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// SSE wraps a Datastar SSE generator. The editor keeps two status signals,
// error and success; setting one clears the other.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humachi.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

func (s SSE) Error(msg string) {
	s.Signals(map[string]any{"error": msg, "success": ""})
}

func (s SSE) Success(msg string) {
	s.Signals(map[string]any{"success": msg, "error": ""})
}

// Signals patches the given signals on the client.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the flat JSON object Datastar posts with every action.
type Signals map[string]any

// ParseSignals decodes a request body. An empty body is an empty set.
func ParseSignals(body []byte) (Signals, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Signals{}, nil
	}
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	return signals, nil
}

func (s Signals) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Float returns a number signal. Bound inputs may send numbers as strings,
// which are parsed.
func (s Signals) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (s Signals) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Has reports whether key is present and not null.
func (s Signals) Has(key string) bool {
	return s[key] != nil
}

// EmptyInput is the input of handlers without parameters.
type EmptyInput struct{}

// SignalsInput captures the raw body so signals can be read before the
// stream starts.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses the signals or fails the request with a 400.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals", err)
	}
	return signals, nil
}
