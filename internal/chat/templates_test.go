package chat

import (
	"encoding/json"
	"testing"
)

func TestFeedbackMessage(t *testing.T) {
	cases := []struct {
		action string
		result string
		want   string
	}{
		{"create_booking", `{"title":"Studio Shoot"}`, "✅ Booking created: Studio Shoot"},
		{"create_booking", ``, "✅ Booking created: New booking"},
		{"update_booking", `{"title":""}`, "✅ Booking updated: Booking"},
		{"cancel_booking", `{"title":"Wedding"}`, "❌ Booking cancelled: Wedding"},
		{"create_customer", `{"first_name":"Ana"}`, "👤 Customer created: Ana"},
		{"create_customer", `{"full_name":"Ana Reyes","first_name":"Ana"}`, "👤 Customer created: Ana Reyes"},
		{"update_customer", `null`, "👤 Customer updated: Customer"},
		{"create_service", `{"name":"Portrait"}`, "🔧 Service created: Portrait"},
		{"update_service", `{}`, "🔧 Service updated: Service"},
		{"noop_action", `{"title":"x"}`, "Action completed successfully"},
	}
	for _, tc := range cases {
		var raw json.RawMessage
		if tc.result != "" {
			raw = json.RawMessage(tc.result)
		}
		if got := FeedbackMessage(tc.action, raw); got != tc.want {
			t.Errorf("FeedbackMessage(%q, %s) = %q, want %q", tc.action, tc.result, got, tc.want)
		}
	}
}

func TestFailureMessageReplacesFirstUnderscoreOnly(t *testing.T) {
	got := FailureMessage("update_customer_email", "invalid email")
	want := "❌ Failed to update customer_email: invalid email"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
