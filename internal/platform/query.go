package platform

import (
	"encoding/json"
	"fmt"
)

// AttrCreatedAt is the platform-assigned creation timestamp attribute.
const AttrCreatedAt = "$createdAt"

// Query methods understood by every DocumentService.
const (
	MethodEqual     = "equal"
	MethodOrderDesc = "orderDesc"
	MethodOrderAsc  = "orderAsc"
	MethodLimit     = "limit"
	MethodSearch    = "search"
)

// Query is a single filter, ordering or paging instruction for ListDocuments.
type Query struct {
	Method    string `json:"method"`
	Attribute string `json:"attribute,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

// Equal matches documents whose attribute equals any of the values.
func Equal(attribute string, values ...any) Query {
	return Query{Method: MethodEqual, Attribute: attribute, Values: values}
}

// OrderDesc sorts by attribute, newest or largest first.
func OrderDesc(attribute string) Query {
	return Query{Method: MethodOrderDesc, Attribute: attribute}
}

// OrderAsc sorts by attribute, oldest or smallest first.
func OrderAsc(attribute string) Query {
	return Query{Method: MethodOrderAsc, Attribute: attribute}
}

// Limit caps the number of returned documents.
func Limit(n int) Query {
	return Query{Method: MethodLimit, Values: []any{n}}
}

// Search performs a full-text match of text against attribute.
func Search(attribute, text string) Query {
	return Query{Method: MethodSearch, Attribute: attribute, Values: []any{text}}
}

// String renders the query in the JSON form used on the wire.
func (q Query) String() string {
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Sprintf("%s(%s)", q.Method, q.Attribute)
	}
	return string(b)
}

// LimitValue returns the limit carried by a limit query.
func (q Query) LimitValue() (int, bool) {
	if q.Method != MethodLimit || len(q.Values) == 0 {
		return 0, false
	}
	switch v := q.Values[0].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// TextValue returns the first value of the query as a string.
func (q Query) TextValue() string {
	if len(q.Values) == 0 {
		return ""
	}
	if s, ok := q.Values[0].(string); ok {
		return s
	}
	return fmt.Sprint(q.Values[0])
}
