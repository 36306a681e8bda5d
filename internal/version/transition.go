package version

// Transition classifies a move between two application versions.
type Transition int

const (
	Same Transition = iota
	Upgrade
	Downgrade
)

func (t Transition) String() string {
	switch t {
	case Upgrade:
		return "upgrade"
	case Downgrade:
		return "downgrade"
	default:
		return "same"
	}
}

func (t Transition) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Classify compares current and next. If either side does not parse the
// result is Same, which suppresses any risk messaging.
func Classify(current, next string) Transition {
	a, okA := Parse(current)
	b, okB := Parse(next)
	if !okA || !okB {
		return Same
	}
	switch Compare(a, b) {
	case -1:
		return Upgrade
	case 1:
		return Downgrade
	default:
		return Same
	}
}

// JumpMagnitude measures how far apart two versions are. Within one major it
// is the minor distance; across majors the major distance dominates.
func JumpMagnitude(current, next string) int {
	a, okA := Parse(current)
	b, okB := Parse(next)
	if !okA || !okB {
		return 0
	}
	if a.Major == b.Major {
		return abs(a.Minor - b.Minor)
	}
	return abs(a.Major-b.Major)*10 + abs(a.Minor-b.Minor)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
