package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Proc is a long-lived helper process driven over its stdin/stdout pipes.
type Proc interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits. Call it only after Stdout hit EOF
	// or the process was killed. A non-zero exit is reported as *ExitError.
	Wait() error
	Kill() error
}

// Starter launches helper processes that outlive a single request.
type Starter interface {
	Start(name string, args ...string) (Proc, error)
}

// NewStarter returns a Starter backed by os/exec. Extra env entries are
// appended to the current process environment.
func NewStarter(env ...string) Starter {
	return &execRunner{env: env}
}

func (r *execRunner) Start(name string, args ...string) (Proc, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), r.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdin: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", name, err)
	}
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &execProc{name: name, cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProc struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (p *execProc) Stdin() io.WriteCloser { return p.stdin }
func (p *execProc) Stdout() io.Reader     { return p.stdout }

func (p *execProc) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &ExitError{Name: p.name, Code: exitErr.ExitCode(), Stderr: p.stderr.String()}
		}
		p.waitErr = err
	})
	return p.waitErr
}

func (p *execProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
