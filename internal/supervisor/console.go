package supervisor

import (
	"bytes"
	"sync"
	"time"
)

// Stream names which child stream a console line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of server console output.
type Line struct {
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

const (
	defaultBacklog    = 200
	subscriberBacklog = 256
)

// Console fans console lines out to subscribers and keeps a short backlog
// for late joiners. Slow subscribers miss lines rather than block the child.
type Console struct {
	mu      sync.Mutex
	subs    map[int]chan Line
	next    int
	backlog []Line
	limit   int
}

func NewConsole(backlog int) *Console {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Console{subs: make(map[int]chan Line), limit: backlog}
}

// Subscribe returns a channel of new lines and a cancel func that closes it.
func (c *Console) Subscribe() (<-chan Line, func()) {
	_, ch, cancel := c.subscribe(false, 0)
	return ch, cancel
}

// TailAndSubscribe is Tail(n) followed by Subscribe, with no line lost or
// repeated in between.
func (c *Console) TailAndSubscribe(n int) ([]Line, <-chan Line, func()) {
	return c.subscribe(true, n)
}

func (c *Console) subscribe(withTail bool, n int) ([]Line, <-chan Line, func()) {
	ch := make(chan Line, subscriberBacklog)
	c.mu.Lock()
	var tail []Line
	if withTail {
		tail = c.tailLocked(n)
	}
	id := c.next
	c.next++
	c.subs[id] = ch
	c.mu.Unlock()
	var once sync.Once
	return tail, ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0
// returns the whole backlog.
func (c *Console) Tail(n int) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tailLocked(n)
}

func (c *Console) tailLocked(n int) []Line {
	if n <= 0 || n > len(c.backlog) {
		n = len(c.backlog)
	}
	out := make([]Line, n)
	copy(out, c.backlog[len(c.backlog)-n:])
	return out
}

func (c *Console) publish(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backlog = append(c.backlog, l)
	if over := len(c.backlog) - c.limit; over > 0 {
		c.backlog = append(c.backlog[:0], c.backlog[over:]...)
	}
	for _, ch := range c.subs {
		select {
		case ch <- l:
		default:
		}
	}
}

// Writer returns an io.Writer that splits its input into lines of stream.
func (c *Console) Writer(stream Stream) *LineWriter {
	return &LineWriter{console: c, stream: stream}
}

// LineWriter buffers partial lines until a newline arrives.
type LineWriter struct {
	mu      sync.Mutex
	console *Console
	stream  Stream
	buf     []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush publishes any trailing partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(b []byte) {
	w.console.publish(Line{Stream: w.stream, Text: string(bytes.TrimRight(b, "\r")), At: time.Now()})
}
