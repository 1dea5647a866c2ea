package redisx

import "fmt"

const ns = "bustix:v1"

func KeyBusAvailability(busID int64) string {
	return fmt.Sprintf("%s:bus:%d:availability", ns, busID)
}

func KeyBusSeatMap(busID int64) string {
	return fmt.Sprintf("%s:bus:%d:seatmap", ns, busID)
}

// KeyRateLimit is the limiter key prefix for a scope; the limiter appends the
// caller identity.
func KeyRateLimit(scope string) string {
	return fmt.Sprintf("%s:rl:%s", ns, scope)
}

func ChannelBusesChanged() string {
	return ns + ":buses:changed"
}
