// Package sanitize strips markup out of the free-text fields callers attach
// to events and streams (description, content, clientData) before they reach
// storage, so a stored record can be rendered back to a browser without
// carrying an XSS payload along for the ride.
package sanitize

import "github.com/microcosm-cc/bluemonday"

// policy strips all HTML; clientData and descriptions are plain-text
// annotations, never markup the API is expected to render.
var policy = bluemonday.StrictPolicy()

// Text sanitizes a single free-text value.
func Text(s string) string {
	return policy.Sanitize(s)
}

// TextPtr sanitizes a *string in place, leaving a nil pointer untouched.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := policy.Sanitize(*s)
	return &clean
}

// ClientData walks a clientData map and sanitizes every string it finds,
// recursing into nested maps and slices; numbers, bools and nil pass
// through untouched.
func ClientData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return policy.Sanitize(val)
	case map[string]interface{}:
		return ClientData(val)
	case []interface{}:
		cleaned := make([]interface{}, len(val))
		for i, item := range val {
			cleaned[i] = sanitizeValue(item)
		}
		return cleaned
	default:
		return v
	}
}

// Content sanitizes an event's free-form content: a plain string is
// sanitized, an object is sanitized recursively like clientData, and any
// other value (numbers, arrays, booleans) is left as the caller sent it.
func Content(content interface{}) interface{} {
	switch val := content.(type) {
	case string:
		return policy.Sanitize(val)
	case map[string]interface{}:
		return ClientData(val)
	default:
		return content
	}
}
