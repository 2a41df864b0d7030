package datasync

import "fmt"

type Collection string

const (
	Bookings  Collection = "bookings"
	Calendar  Collection = "calendar"
	Customers Collection = "customers"
	Services  Collection = "services"
)

// All lists every collection the assistant can make stale.
func All() []Collection {
	return []Collection{Bookings, Calendar, Customers, Services}
}

// CollectionsFor maps an assistant action type to the collections it
// invalidates. Unknown actions invalidate nothing.
func CollectionsFor(actionType string) []Collection {
	switch actionType {
	case "create_booking", "update_booking", "cancel_booking":
		return []Collection{Bookings, Calendar}
	case "create_customer", "update_customer":
		return []Collection{Customers}
	case "create_service", "update_service":
		return []Collection{Services}
	default:
		return nil
	}
}

func ParseCollection(s string) (Collection, error) {
	for _, c := range All() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", s)
}
