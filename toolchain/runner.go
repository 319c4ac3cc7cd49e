package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CommandRunner runs external tools to completion.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a tool that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// ExecRunner runs commands with os/exec, forwarding the tool's stdout and stderr
// line by line to Output as they are produced.
type ExecRunner struct {
	Output io.Writer
	log    *slog.Logger
}

// NewExecRunner creates a runner writing tool output to out. A nil out writes to stdout.
func NewExecRunner(out io.Writer, log *slog.Logger) *ExecRunner {
	if out == nil {
		out = os.Stdout
	}
	return &ExecRunner{Output: out, log: log}
}

// Run starts cmd and waits for it. Cancelling ctx kills the tool.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	stdout, err := c.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return err
	}

	r.log.Debug("Running command", slog.String("cmd", cmd.String()), slog.String("dir", cmd.Dir))
	if err := c.Start(); err != nil {
		return fmt.Errorf("could not start %s: %w", cmd.Name, err)
	}

	// Both streams share one writer, lines are never interleaved mid-line
	var mu sync.Mutex
	var wg sync.WaitGroup
	forward := func(rd io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			mu.Lock()
			fmt.Fprintln(r.Output, scanner.Text())
			mu.Unlock()
		}
		// Keep draining so the tool never blocks on a full pipe
		io.Copy(io.Discard, rd)
	}
	wg.Add(2)
	go forward(stdout)
	go forward(stderr)
	wg.Wait()

	err = c.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
		}
		return &ExitError{Command: cmd.Name, Code: exitErr.ExitCode()}
	}
	return err
}
