package version

// NewestRuntimeMajor is the requirement assumed for versions we cannot parse
// or that are newer than the table.
const NewestRuntimeMajor = 21

// requirement is one step of the runtime table: versions >= From need Major.
type requirement struct {
	From  Triple
	Major int
}

// Ordered newest first.
var runtimeTable = []requirement{
	{From: Triple{1, 20, 6}, Major: 21},
	{From: Triple{1, 18, 0}, Major: 17},
	{From: Triple{1, 17, 0}, Major: 16},
	{From: Triple{0, 0, 0}, Major: 8},
}

// RequiredRuntimeMajor returns the runtime major an application version needs.
func RequiredRuntimeMajor(appVersion string) int {
	t, ok := Parse(appVersion)
	if !ok {
		return NewestRuntimeMajor
	}
	return RequiredRuntimeMajorFor(t)
}

// RequiredRuntimeMajorFor is RequiredRuntimeMajor over a parsed triple.
func RequiredRuntimeMajorFor(t Triple) int {
	if t.Major > 1 {
		return NewestRuntimeMajor
	}
	for _, r := range runtimeTable {
		if t.AtLeast(r.From) {
			return r.Major
		}
	}
	return runtimeTable[len(runtimeTable)-1].Major
}

// IsCompatible reports whether an installed runtime satisfies the requirement.
// An undetected runtime (0) never does.
func IsCompatible(installedMajor, requiredMajor int) bool {
	if installedMajor <= 0 {
		return false
	}
	return installedMajor >= requiredMajor
}
