package energygrid

import (
	"encoding/json"
	"strings"
)

// BodyShape tags the classified shape of a response body. The normalizer
// produces exactly one of these for every input, which keeps the shape
// detection exhaustively testable.
type BodyShape int

const (
	// ShapeUnknown marks bodies that are neither JSON containers nor blobs.
	ShapeUnknown BodyShape = iota
	// ShapeBlob marks raw binary payloads that bypass all introspection.
	ShapeBlob
	// ShapeEnvelope marks the canonical {success, data, pagination?, message?} wrapper.
	ShapeEnvelope
	// ShapeList marks a bare top-level JSON array.
	ShapeList
	// ShapeObject marks a bare top-level JSON object without envelope fields.
	ShapeObject
)

func (s BodyShape) String() string {
	switch s {
	case ShapeBlob:
		return "blob"
	case ShapeEnvelope:
		return "envelope"
	case ShapeList:
		return "list"
	case ShapeObject:
		return "object"
	default:
		return "unknown"
	}
}

// PageInfo is the canonical pagination shape, folded from whichever server
// field-name variant is present.
type PageInfo struct {
	CurrentPage int  `json:"currentPage"`
	PerPage     int  `json:"perPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// Result is the canonical (payload, pagination, error) triple extracted from
// an arbitrary response body. ErrMessage is non-empty exactly when the server
// reported failure or the body was malformed; Warning flags structural
// surprises that were tolerated rather than failed.
type Result struct {
	Payload    any
	Page       *PageInfo
	ErrMessage string
	Shape      BodyShape
	Warning    string
}

// IsError reports whether the normalized result carries a server failure.
func (r Result) IsError() bool { return r.ErrMessage != "" }

const genericFailureMessage = "request failed"

// Normalize classifies a decoded response body and extracts the canonical
// triple. It never returns a Go error: malformed input yields an explicit
// error Result, and binary payloads pass through unexamined.
func Normalize(body []byte, contentType string) Result {
	if isBinaryContentType(contentType) {
		return Result{Payload: body, Shape: ShapeBlob}
	}

	if len(body) == 0 {
		return Result{Shape: ShapeUnknown}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{
			ErrMessage: "malformed response body",
			Shape:      ShapeUnknown,
		}
	}

	switch v := decoded.(type) {
	case map[string]any:
		if isEnvelope(v) {
			return normalizeEnvelope(v)
		}
		return Result{
			Payload: v,
			Shape:   ShapeObject,
			Warning: "response body is not an envelope; using whole body as payload",
		}
	case []any:
		return Result{
			Payload: v,
			Shape:   ShapeList,
			Warning: "response body is not an envelope; using whole body as payload",
		}
	default:
		return Result{
			Payload: decoded,
			Shape:   ShapeUnknown,
			Warning: "unrecognized response shape; using whole body as payload",
		}
	}
}

// isEnvelope reports whether the object exposes both a boolean success flag
// and a data member.
func isEnvelope(obj map[string]any) bool {
	success, hasSuccess := obj["success"]
	if !hasSuccess {
		return false
	}
	if _, ok := success.(bool); !ok {
		return false
	}
	_, hasData := obj["data"]
	_, hasMessage := obj["message"]
	return hasData || hasMessage
}

func normalizeEnvelope(env map[string]any) Result {
	success, _ := env["success"].(bool)
	if !success {
		return Result{
			ErrMessage: envelopeErrorMessage(env),
			Shape:      ShapeEnvelope,
		}
	}

	data := env["data"]
	page := extractPage(env["pagination"])

	switch d := data.(type) {
	case map[string]any:
		// A nested data member alongside pagination-shaped fields marks a
		// paginated wrapper one level deeper.
		if nested, ok := d["data"]; ok && hasPaginationFields(d) {
			if page == nil {
				page = extractPage(d["pagination"])
			}
			if page == nil {
				page = extractPage(d)
			}
			return Result{Payload: nested, Page: page, Shape: ShapeEnvelope}
		}
		return Result{Payload: d, Page: page, Shape: ShapeEnvelope}
	case []any:
		return Result{Payload: d, Page: page, Shape: ShapeEnvelope}
	default:
		return Result{Payload: data, Page: page, Shape: ShapeEnvelope}
	}
}

// envelopeErrorMessage resolves the failure text: message, then a generic
// error field, then a fixed fallback. Always non-empty.
func envelopeErrorMessage(env map[string]any) string {
	if msg, ok := env["message"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := env["error"].(string); ok && msg != "" {
		return msg
	}
	return genericFailureMessage
}

// extractFieldErrors pulls the field-keyed validation map from an envelope,
// tolerating both string and list-of-strings values. Nil when absent.
func extractFieldErrors(env map[string]any) map[string]string {
	raw, ok := env["errors"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []any:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok {
					fields[k] = s
				}
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

var (
	currentPageAliases = []string{"current_page", "currentPage", "page"}
	perPageAliases     = []string{"per_page", "perPage", "page_size", "pageSize", "limit"}
	totalPagesAliases  = []string{"total_pages", "totalPages", "pages"}
	totalCountAliases  = []string{"total_count", "totalCount", "total_items", "totalItems", "total"}
	hasNextAliases     = []string{"has_next_page", "hasNextPage", "has_next", "hasNext"}
	hasPrevAliases     = []string{"has_prev_page", "hasPrevPage", "has_prev", "hasPrev"}
)

// hasPaginationFields reports whether the object carries a pagination member
// or any recognized inline pagination alias.
func hasPaginationFields(obj map[string]any) bool {
	if _, ok := obj["pagination"]; ok {
		return true
	}
	for _, keys := range [][]string{currentPageAliases, perPageAliases, totalPagesAliases, totalCountAliases} {
		for _, k := range keys {
			if _, ok := obj[k]; ok {
				return true
			}
		}
	}
	return false
}

// extractPage folds any of the known server pagination variants into the
// canonical PageInfo. Missing fields take defaults; hasNextPage derives from
// currentPage < totalPages unless the server states it outright.
func extractPage(v any) *PageInfo {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if !hasPaginationFields(obj) {
		return nil
	}

	page := &PageInfo{
		CurrentPage: intAlias(obj, currentPageAliases, 1),
		PerPage:     intAlias(obj, perPageAliases, 0),
		TotalPages:  intAlias(obj, totalPagesAliases, 0),
		TotalCount:  intAlias(obj, totalCountAliases, 0),
	}
	if page.CurrentPage < 0 {
		page.CurrentPage = 0
	}

	if b, ok := boolAlias(obj, hasNextAliases); ok {
		page.HasNextPage = b
	} else {
		page.HasNextPage = page.CurrentPage < page.TotalPages
	}
	if b, ok := boolAlias(obj, hasPrevAliases); ok {
		page.HasPrevPage = b
	} else {
		page.HasPrevPage = page.CurrentPage > 1
	}
	return page
}

func intAlias(obj map[string]any, keys []string, def int) int {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			switch n := v.(type) {
			case float64:
				if n < 0 {
					return def
				}
				return int(n)
			case string:
				// Some endpoints stringify counts.
				var parsed int
				for _, c := range n {
					if c < '0' || c > '9' {
						parsed = -1
						break
					}
					parsed = parsed*10 + int(c-'0')
				}
				if parsed >= 0 && n != "" {
					return parsed
				}
			}
		}
	}
	return def
}

func boolAlias(obj map[string]any, keys []string) (bool, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(bool); ok {
			return v, true
		}
	}
	return false, false
}

// isBinaryContentType reports whether the response is a raw download that
// must bypass structural introspection entirely.
func isBinaryContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(contentType)
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch {
	case strings.HasPrefix(ct, "application/json"), strings.HasSuffix(ct, "+json"):
		return false
	case strings.HasPrefix(ct, "text/"):
		return false
	case strings.HasPrefix(ct, "application/octet-stream"),
		strings.HasPrefix(ct, "application/pdf"),
		strings.HasPrefix(ct, "application/zip"),
		strings.HasPrefix(ct, "image/"),
		strings.HasPrefix(ct, "audio/"),
		strings.HasPrefix(ct, "video/"),
		strings.HasPrefix(ct, "application/vnd."):
		return true
	default:
		return false
	}
}
