// Package progress carries status+percentage updates from long running
// operations to whoever renders them.
package progress

// Update is one progress report. Percent is 0..100 across all phases of an
// operation.
type Update struct {
	Status  string `json:"status"`
	Percent int    `json:"percent"`
}

// Func receives updates. It may be called from any goroutine.
type Func func(Update)

// Report calls f if it is non-nil.
func (f Func) Report(status string, pct int) {
	if f != nil {
		f(Update{Status: status, Percent: clamp(pct, 0, 100)})
	}
}

// Band maps the progress of a single phase onto a slice [Lo, Hi] of the
// overall bar.
type Band struct {
	Lo, Hi int
}

// Scale converts done/total into an overall percentage. Unknown totals
// (<= 0) report the band's start.
func (b Band) Scale(done, total int64) int {
	if total <= 0 || done <= 0 {
		return b.Lo
	}
	if done >= total {
		return b.Hi
	}
	return b.Lo + int(int64(b.Hi-b.Lo)*done/total)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
