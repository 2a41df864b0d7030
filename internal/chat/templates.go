package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

const genericFeedback = "Action completed successfully"

// FeedbackMessage renders the user-facing line for a completed action.
func FeedbackMessage(actionType string, result json.RawMessage) string {
	var r map[string]any
	if len(result) > 0 {
		_ = json.Unmarshal(result, &r)
	}

	switch actionType {
	case "create_booking":
		return "✅ Booking created: " + pick(r, "New booking", "title")
	case "update_booking":
		return "✅ Booking updated: " + pick(r, "Booking", "title")
	case "cancel_booking":
		return "❌ Booking cancelled: " + pick(r, "Booking", "title")
	case "create_customer":
		return "👤 Customer created: " + pick(r, "New customer", "full_name", "first_name")
	case "update_customer":
		return "👤 Customer updated: " + pick(r, "Customer", "full_name", "first_name")
	case "create_service":
		return "🔧 Service created: " + pick(r, "New service", "name")
	case "update_service":
		return "🔧 Service updated: " + pick(r, "Service", "name")
	default:
		return genericFeedback
	}
}

// FailureMessage renders a failed action. Only the first underscore of the
// action type becomes a space.
func FailureMessage(actionType, errText string) string {
	return fmt.Sprintf("❌ Failed to %s: %s", strings.Replace(actionType, "_", " ", 1), errText)
}

// pick returns the first non-empty field among keys, else fallback.
func pick(r map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case bool:
			if s {
				return "true"
			}
		case float64:
			if s != 0 {
				return fmt.Sprint(s)
			}
		default:
			return fmt.Sprint(s)
		}
	}
	return fallback
}
