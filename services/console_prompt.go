package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ConsolePrompt lists matching devices on out and reads a 1-based choice
// from in. An empty line or "q" cancels.
//
// One reader goroutine owns in for the life of the prompt. A Choose that
// returns early on ctx leaves the next line for the following Choose.
type ConsolePrompt struct {
	in  *bufio.Reader
	out io.Writer

	startOnce sync.Once
	lines     chan string
	readErr   error
}

func NewConsolePrompt(in io.Reader, out io.Writer) *ConsolePrompt {
	return &ConsolePrompt{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan string),
	}
}

// readLines feeds lines until in fails. readErr is written before lines is
// closed, so receivers that see the close also see the error.
func (p *ConsolePrompt) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if line != "" {
			p.lines <- line
		}
		if err != nil {
			p.readErr = err
			return
		}
	}
}

func (p *ConsolePrompt) Choose(ctx context.Context, devices []WearableDevice) (WearableDevice, error) {
	p.startOnce.Do(func() { go p.readLines() })

	fmt.Fprintln(p.out, "Select a wearable device:")
	for i, d := range devices {
		fmt.Fprintf(p.out, "  [%d] %s (%s)\n", i+1, d.Product, d.Port)
	}
	fmt.Fprint(p.out, "Device number (empty or q to cancel): ")

	var (
		line string
		ok   bool
	)
	select {
	case <-ctx.Done():
		return WearableDevice{}, ctx.Err()
	case line, ok = <-p.lines:
	}

	if !ok && p.readErr != io.EOF {
		return WearableDevice{}, fmt.Errorf("failed to read selection: %w", p.readErr)
	}

	answer := strings.TrimSpace(line)
	if answer == "" || strings.EqualFold(answer, "q") {
		return WearableDevice{}, ErrPromptCancelled
	}

	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(devices) {
		return WearableDevice{}, fmt.Errorf("invalid device selection %q", answer)
	}
	return devices[n-1], nil
}
