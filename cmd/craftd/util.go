package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/loykin/craftd/internal/progress"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func row(tw *tabwriter.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(parts, "\t"))
}

// progressPrinter renders progress updates on one terminal line. Repeated
// identical updates are dropped.
func progressPrinter(w io.Writer) (progress.Func, func()) {
	var mu sync.Mutex
	last := progress.Update{Percent: -1}
	printed := false
	fn := func(u progress.Update) {
		mu.Lock()
		defer mu.Unlock()
		if u == last {
			return
		}
		last = u
		printed = true
		_, _ = fmt.Fprintf(w, "\r\033[K[%3d%%] %s", u.Percent, u.Status)
	}
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		if printed {
			_, _ = fmt.Fprintln(w)
		}
	}
	return fn, done
}

func stderrProgress(quiet bool) (progress.Func, func()) {
	if quiet {
		return nil, func() {}
	}
	return progressPrinter(os.Stderr)
}
