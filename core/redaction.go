package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap masks customer contact details, signed links and
// credentials before fields reach a log sink. Correlation keys stay visible.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(fields)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveKeyTokens = []string{
	"email",
	"phone",
	"customer_name",
	"access_url",
	"signing_key",
	"signature",
	"secret",
	"password",
	"token",
	"authorization",
	"api_key",
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isCorrelationKey(key) {
		return false
	}
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isCorrelationKey(key string) bool {
	switch key {
	case "provider_id",
		"event_id",
		"event_kind",
		"order_id",
		"order_number",
		"deliverable_id",
		"session_id",
		"payment_intent_id",
		"task_id",
		"request_id",
		"trace_id":
		return true
	default:
		return false
	}
}
