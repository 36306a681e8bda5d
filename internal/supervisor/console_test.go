package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriterSplitsLines(t *testing.T) {
	c := NewConsole(10)
	w := c.Writer(Stdout)
	_, err := w.Write([]byte("hel"))
	require.NoError(t, err)
	assert.Empty(t, c.Tail(0))
	_, _ = w.Write([]byte("lo\r\nworld\npart"))
	tail := c.Tail(0)
	require.Len(t, tail, 2)
	assert.Equal(t, "hello", tail[0].Text)
	assert.Equal(t, "world", tail[1].Text)
	w.Flush()
	assert.Equal(t, "part", c.Tail(1)[0].Text)
}

func TestConsoleBacklogIsBounded(t *testing.T) {
	c := NewConsole(3)
	w := c.Writer(Stderr)
	for _, s := range []string{"a\n", "b\n", "c\n", "d\n"} {
		_, _ = w.Write([]byte(s))
	}
	tail := c.Tail(0)
	require.Len(t, tail, 3)
	assert.Equal(t, "b", tail[0].Text)
	assert.Equal(t, Stderr, tail[0].Stream)
	assert.Len(t, c.Tail(2), 2)
	assert.Equal(t, "d", c.Tail(2)[1].Text)
}

func TestSubscribeAndCancel(t *testing.T) {
	c := NewConsole(0)
	ch, cancel := c.Subscribe()
	_, _ = c.Writer(Stdout).Write([]byte("ping\n"))
	l := <-ch
	assert.Equal(t, "ping", l.Text)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	_, _ = c.Writer(Stdout).Write([]byte("after\n"))
}

func TestTailAndSubscribeHasNoOverlap(t *testing.T) {
	c := NewConsole(10)
	w := c.Writer(Stdout)
	_, _ = w.Write([]byte("one\ntwo\n"))

	tail, ch, cancel := c.TailAndSubscribe(5)
	defer cancel()
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[1].Text)

	_, _ = w.Write([]byte("three\n"))
	l := <-ch
	assert.Equal(t, "three", l.Text)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected line %q", extra.Text)
	default:
	}
}
