package supervisor

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// process is the handle of one launched server. It exists from a successful
// spawn until the supervisor releases it after exit.
type process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	javaPath  string

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	waitDone chan struct{} // closed by monitor when cmd.Wait returns
	flushers []*LineWriter
	closers  []io.Closer

	mu        sync.Mutex
	stopping  bool
	stoppedAt time.Time
	exitErr   error
}

func (p *process) exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

// send writes one line to the server's stdin.
func (p *process) send(line string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return errors.New("stdin closed")
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *process) closeStdin() {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
}

func (p *process) setStopping(v bool) {
	p.mu.Lock()
	p.stopping = v
	p.mu.Unlock()
}

func (p *process) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *process) markExited(err error) {
	p.mu.Lock()
	p.stoppedAt = time.Now()
	p.exitErr = err
	p.mu.Unlock()
}

func (p *process) exitState() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedAt, p.exitErr
}

// closeWriters flushes console line writers and closes the log files.
func (p *process) closeWriters() {
	for _, f := range p.flushers {
		f.Flush()
	}
	for _, c := range p.closers {
		_ = c.Close()
	}
}
