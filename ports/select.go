package ports

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"golang.org/x/term"
)

// maxPromptAttempts bounds how often an operator may answer the port prompt wrongly.
const maxPromptAttempts = 3

// Prompt is the operator console used when several ports are available.
type Prompt struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
}

// StdioPrompt prompts on stdin/stderr, interactive only when stdin is a terminal.
func StdioPrompt() Prompt {
	return Prompt{
		In:          os.Stdin,
		Out:         os.Stderr,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Select picks the connection to flash through. An explicit port is used as is.
// Otherwise a single discovered port is used, and several ports are offered to the
// operator, or fail with ErrPortSelectionRequired when the prompt is not interactive.
func Select(ctx context.Context, explicit string, discoverer interfaces.PortDiscoverer, prompt Prompt) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	ports, err := discoverer.Ports(ctx)
	if err != nil {
		return "", err
	}

	switch len(ports) {
	case 0:
		return "", interfaces.ErrNoPorts
	case 1:
		return ports[0].Name, nil
	}

	if !prompt.Interactive {
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.Name)
		}
		return "", fmt.Errorf("%w: %s", interfaces.ErrPortSelectionRequired, strings.Join(names, ", "))
	}
	return choose(ctx, ports, prompt)
}

// promptInput is the operator answer stream. err is set before lines is closed.
type promptInput struct {
	lines chan string
	err   error
}

// readLines scans in in the background. The reader may stay blocked on in after
// choose returns.
func readLines(in io.Reader) *promptInput {
	p := &promptInput{lines: make(chan string)}
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		p.err = scanner.Err()
	}()
	return p
}

func choose(ctx context.Context, ports []interfaces.Port, prompt Prompt) (string, error) {
	fmt.Fprintln(prompt.Out, "Available serial ports:")
	for i, p := range ports {
		fmt.Fprintf(prompt.Out, "  [%d] %s\n", i+1, Describe(p))
	}

	input := readLines(prompt.In)
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		fmt.Fprintf(prompt.Out, "Select port [1-%d]: ", len(ports))

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(prompt.Out)
			return "", ctx.Err()
		case line, ok = <-input.lines:
		}
		if !ok {
			if input.err != nil {
				return "", fmt.Errorf("failed to read port selection: %w", input.err)
			}
			break
		}

		answer := strings.TrimSpace(line)
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(ports) {
			return ports[n-1].Name, nil
		}
		for _, p := range ports {
			if p.Name == answer {
				return p.Name, nil
			}
		}
		fmt.Fprintf(prompt.Out, "Invalid selection %q\n", answer)
	}

	return "", interfaces.ErrPortSelectionRequired
}
