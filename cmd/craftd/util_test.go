package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loykin/craftd/internal/progress"
)

func TestProgressPrinterDropsRepeats(t *testing.T) {
	var buf bytes.Buffer
	fn, done := progressPrinter(&buf)
	fn(progress.Update{Status: "Downloading", Percent: 10})
	fn(progress.Update{Status: "Downloading", Percent: 10})
	fn(progress.Update{Status: "Downloading", Percent: 50})
	done()
	out := buf.String()
	if n := strings.Count(out, "[ 10%]"); n != 1 {
		t.Fatalf("10%% printed %d times: %q", n, out)
	}
	if !strings.Contains(out, "[ 50%] Downloading") || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestProgressPrinterSilentWhenUnused(t *testing.T) {
	var buf bytes.Buffer
	_, done := progressPrinter(&buf)
	done()
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tw := newTable(&buf, "A", "B")
	row(tw, 1, "two")
	if err := tw.Flush(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "1") {
		t.Fatalf("unexpected table %q", buf.String())
	}
}
