package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// fallbackMessage is used when an error body carries no usable detail.
const fallbackMessage = "Evaluate failed"

// errorMessage extracts a human-readable message from a non-2xx body.
// An unparsable body yields the status text; an empty result yields "HTTP <code>".
func errorMessage(body []byte, statusCode int, statusText string) string {
	var msg string
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		msg = statusText
	} else if obj, ok := parsed.(map[string]any); ok {
		msg = FormatDetail(obj["detail"])
	} else {
		msg = fallbackMessage
	}

	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}
	return msg
}

// FormatDetail renders the "detail" member of an error body.
//
// A string is returned as is. A list of field errors is rendered as
// "<dotted.loc>: <msg>" per entry (bare msg without a loc), joined by "; ".
// Anything else yields the generic fallback message.
func FormatDetail(detail any) string {
	switch d := detail.(type) {
	case string:
		return d
	case []any:
		parts := make([]string, 0, len(d))
		for _, entry := range d {
			parts = append(parts, formatFieldError(entry))
		}
		return strings.Join(parts, "; ")
	default:
		return fallbackMessage
	}
}

func formatFieldError(entry any) string {
	obj, ok := entry.(map[string]any)
	if !ok {
		return scalar(entry)
	}

	msg := ""
	if m, ok := obj["msg"]; ok && m != nil {
		msg = scalar(m)
	}

	loc, ok := obj["loc"].([]any)
	if !ok || len(loc) == 0 {
		return msg
	}
	path := make([]string, len(loc))
	for i, p := range loc {
		path[i] = scalar(p)
	}
	where := strings.Join(path, ".")
	if where == "" {
		return msg
	}
	return where + ": " + msg
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
