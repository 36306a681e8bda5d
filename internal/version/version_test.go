package version

import (
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Triple
		ok   bool
	}{
		{"1.20.4", Triple{1, 20, 4}, true},
		{" 1.21 ", Triple{1, 21, 0}, true},
		{"2.0.1", Triple{2, 0, 1}, true},
		{"1", Triple{}, false},
		{"1.2.3.4", Triple{}, false},
		{"1.x", Triple{}, false},
		{"1.-2", Triple{}, false},
		{"1.+2", Triple{}, false},
		{"", Triple{}, false},
		{"1.20.4-pre1", Triple{}, false},
	}
	for _, c := range cases {
		got, ok := Parse(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("Parse(%q) = %v,%v want %v,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestRequiredRuntimeMajor(t *testing.T) {
	cases := map[string]int{
		"1.20.6":  21,
		"1.20.5":  17,
		"1.16.5":  8,
		"1.17":    16,
		"1.17.1":  16,
		"1.18":    17,
		"1.21.11": 21,
		"1.8.9":   8,
		"2.0":     21,
		"garbage": 21,
		"":        21,
	}
	for in, want := range cases {
		if got := RequiredRuntimeMajor(in); got != want {
			t.Errorf("RequiredRuntimeMajor(%q) = %d want %d", in, got, want)
		}
	}
}

func TestRequiredRuntimeMajorMonotone(t *testing.T) {
	var ts []Triple
	for major := 1; major <= 2; major++ {
		for minor := 0; minor <= 22; minor++ {
			for patch := 0; patch <= 8; patch++ {
				ts = append(ts, Triple{major, minor, patch})
			}
		}
	}
	sort.Slice(ts, func(i, j int) bool { return Compare(ts[i], ts[j]) < 0 })
	prev := 0
	for _, tr := range ts {
		got := RequiredRuntimeMajorFor(tr)
		if got < prev {
			t.Fatalf("requirement decreased at %v: %d < %d", tr, got, prev)
		}
		prev = got
	}
}

func TestIsCompatible(t *testing.T) {
	if IsCompatible(0, 8) {
		t.Fatalf("undetected runtime must be incompatible")
	}
	if !IsCompatible(21, 17) || !IsCompatible(17, 17) {
		t.Fatalf("newer or equal runtime must be compatible")
	}
	if IsCompatible(16, 17) {
		t.Fatalf("older runtime must be incompatible")
	}
}

func TestClassifyComplementary(t *testing.T) {
	vs := []string{"1.8.9", "1.12.2", "1.16.5", "1.20", "1.20.4", "1.21.1", "2.0"}
	for _, a := range vs {
		if Classify(a, a) != Same {
			t.Fatalf("Classify(%s,%s) != Same", a, a)
		}
		for _, b := range vs {
			if a == b {
				continue
			}
			ab, ba := Classify(a, b), Classify(b, a)
			if (ab == Upgrade) != (ba == Downgrade) || ab == Same {
				t.Fatalf("Classify(%s,%s)=%v Classify(%s,%s)=%v", a, b, ab, b, a, ba)
			}
		}
	}
	if Classify("Unknown", "1.20.4") != Same {
		t.Fatalf("unparseable side must classify as Same")
	}
}

func TestJumpMagnitude(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.20.4", "1.21.1", 1},
		{"1.16.5", "1.20.4", 4},
		{"1.20", "1.12", 8},
		{"1.20", "2.1", 29},
		{"Unknown", "1.20", 0},
	}
	for _, c := range cases {
		if got := JumpMagnitude(c.a, c.b); got != c.want {
			t.Errorf("JumpMagnitude(%s,%s) = %d want %d", c.a, c.b, got, c.want)
		}
	}
}
