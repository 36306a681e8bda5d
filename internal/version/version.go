// Package version parses dotted application versions and maps them to the
// runtime major version they need.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Triple is a parsed major.minor.patch version. Patch is 0 when absent.
type Triple struct {
	Major int
	Minor int
	Patch int
}

func (t Triple) String() string {
	if t.Patch == 0 {
		return fmt.Sprintf("%d.%d", t.Major, t.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// Parse reads "major.minor[.patch]". Surrounding whitespace is ignored and
// anything that is not two or three non-negative integers yields ok=false.
func Parse(s string) (Triple, bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Triple{}, false
	}
	nums := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p == "" || p[0] == '+' {
			return Triple{}, false
		}
		nums[i] = n
	}
	return Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}, true
}

// Compare returns -1, 0 or 1.
func Compare(a, b Triple) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

// AtLeast reports whether t >= o.
func (t Triple) AtLeast(o Triple) bool { return Compare(t, o) >= 0 }

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
