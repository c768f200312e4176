// Package target enumerates the supported console variants and their wire
// RP-Version strings. It is pure, allocation-free, and carries no state: the
// only authoritative mapping between a Target and its version string lives
// here (spec.md §4.1 — "no other mapping is authoritative").
package target

// Target is a tagged variant identifying a specific console firmware family
// and Remote Play protocol version.
type Target int

const (
	Unknown Target = iota
	PS4_8
	PS4_9
	PS4_10
	PS4Unknown
	PS5_1
	PS5Unknown
)

// String implements fmt.Stringer for logging.
func (t Target) String() string {
	switch t {
	case PS4_8:
		return "PS4_8"
	case PS4_9:
		return "PS4_9"
	case PS4_10:
		return "PS4_10"
	case PS4Unknown:
		return "PS4_UNKNOWN"
	case PS5_1:
		return "PS5_1"
	case PS5Unknown:
		return "PS5_UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// IsPS5 reports whether t belongs to the PS5 console family.
func (t Target) IsPS5() bool {
	return t == PS5_1 || t == PS5Unknown
}

// IsUnknown reports whether t is one of the UNKNOWN sentinels.
func (t Target) IsUnknown() bool {
	return t == PS4Unknown || t == PS5Unknown || t == Unknown
}

// VersionString returns the canonical RP-Version wire string for t, or
// ("", false) if t has none (the UNKNOWN variants carry no version).
func VersionString(t Target) (string, bool) {
	switch t {
	case PS4_8:
		return "8.0", true
	case PS4_9:
		return "9.0", true
	case PS4_10:
		return "10.0", true
	case PS5_1:
		return "1.0", true
	default:
		return "", false
	}
}

// Parse returns the Target matching the given wire version string for the
// given console family, or the appropriate UNKNOWN sentinel if no known
// Target carries that version string. This is the inverse of VersionString
// and must round-trip for every known Target: Parse(VersionString(t), t.IsPS5()) == t.
func Parse(version string, isPS5 bool) Target {
	if isPS5 {
		if version == "1.0" {
			return PS5_1
		}
		return PS5Unknown
	}
	switch version {
	case "8.0":
		return PS4_8
	case "9.0":
		return PS4_9
	case "10.0":
		return PS4_10
	default:
		return PS4Unknown
	}
}

// Initial returns the Target a fresh session should first attempt, derived
// purely from the ps5 flag in ConnectInfo (spec.md §4.3: "First attempt uses
// the target derived from the ps5 flag (PS5_1 or PS4_10)").
func Initial(isPS5 bool) Target {
	if isPS5 {
		return PS5_1
	}
	return PS4_10
}
