package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the operation-specific data object of a request.
type Payload map[string]any

// String returns the field as a string. Numbers are formatted, since older
// clients send identifiers such as phone numbers as JSON numbers.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
