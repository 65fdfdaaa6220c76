package common

import "strings"

// RedactedValue replaces sensitive values in sanitized output
const RedactedValue = "[REDACTED]"

var sensitiveKeyFragments = []string{"password", "token", "key", "secret", "private_key"}

// IsSensitiveKey reports whether a field name looks like it holds a credential
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// SanitizeForLogging returns a copy of data with credential-like fields redacted.
// Nested maps and slices of maps are walked; the input is never modified.
func SanitizeForLogging(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if IsSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return SanitizeForLogging(val)
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, s := range val {
			if IsSensitiveKey(k) {
				out[k] = RedactedValue
			} else {
				out[k] = s
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
