package plans

import "strings"

// Plan names (single source of truth)
const (
	Bronze = "bronze"
	Silver = "silver"
	Gold   = "gold"
)

var credits = map[string]int{
	Bronze: 10,
	Silver: 70,
	Gold:   160,
}

// Normalize lower-cases and trims name and reports whether it is a known plan.
func Normalize(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	_, ok := credits[name]
	return name, ok
}

// CreditsFor returns the lead credits granted when a plan activates. Unknown
// plans grant nothing.
func CreditsFor(name string) int {
	name, _ = Normalize(name)
	return credits[name]
}
