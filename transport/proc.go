package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"

	"parley/errors"
	"parley/logging"
)

// Command describes how to launch a tool endpoint subprocess.
type Command struct {
	Path string            `json:"path"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// Proc is a scoped subprocess resource: acquired by Start, released by Kill
// or by the process exiting on its own. The diagnostic stream is drained to
// the logger and never parsed as protocol data.
type Proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	killed   atomic.Bool
	exitCode atomic.Int64
	exited   chan struct{}
}

// Start spawns the endpoint subprocess with piped standard streams.
func Start(command Command, log *logging.Logger) (*Proc, error) {
	if command.Path == "" {
		return nil, errors.InvalidInput("endpoint command is empty")
	}
	if log == nil {
		log = logging.New()
	}
	log = log.WithComponent("proc")

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = os.Environ()
	for k, v := range command.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Internal("stdin pipe", errors.WithCause(err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Internal("stdout pipe", errors.WithCause(err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Internal("stderr pipe", errors.WithCause(err))
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Internal("start endpoint", errors.WithCause(err))
	}

	p := &Proc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}

	go drainStderr(stderr, log)
	go p.reap()

	return p, nil
}

// drainStderr surfaces the endpoint's diagnostic output for operators.
func drainStderr(r io.Reader, log *logging.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		log.Stderr(scanner.Text())
	}
}

// reap waits for the process and records its exit code.
func (p *Proc) reap() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			code = exitErr.ExitCode()
		}
	}
	p.exitCode.Store(int64(code))
	close(p.exited)
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// Stdin returns the endpoint's input stream.
func (p *Proc) Stdin() io.Writer {
	return p.stdin
}

// Stdout returns the endpoint's output stream.
func (p *Proc) Stdout() io.Reader {
	return p.stdout
}

// Kill terminates the endpoint with a signal. Idempotent; killing an
// already-exited process is a no-op.
func (p *Proc) Kill() {
	if p.killed.Swap(true) {
		return
	}
	p.stdin.Close()
	select {
	case <-p.exited:
		return
	default:
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// ExitCode blocks until the process has exited and returns its exit code.
func (p *Proc) ExitCode() int {
	<-p.exited
	return int(p.exitCode.Load())
}

// Exited is closed once the process has been reaped.
func (p *Proc) Exited() <-chan struct{} {
	return p.exited
}

// Framer wires a Framer over the process's standard streams with the exit
// code resolver attached.
func (p *Proc) Framer(log *logging.Logger) *Framer {
	f := NewFramer(p.stdout, p.stdin, log)
	f.ExitCodeFunc = p.ExitCode
	return f
}
