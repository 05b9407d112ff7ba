package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Operator answers interactive prompts. Ask returns io.EOF once input ends.
type Operator interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Console is an Operator on a terminal.
type Console struct {
	out   io.Writer
	lines chan lineResult
	once  sync.Once
	in    *bufio.Reader
}

type lineResult struct {
	line string
	err  error
}

// NewConsole prompts on out and reads answers line by line from in.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, lines: make(chan lineResult)}
}

// reader feeds lines to Ask so a blocked read does not hold up cancellation.
func (c *Console) reader() {
	for {
		line, err := c.in.ReadString('\n')
		if err != nil && line != "" {
			err = nil
		}
		c.lines <- lineResult{line: strings.TrimRight(line, "\r\n"), err: err}
		if err != nil {
			return
		}
	}
}

// Ask prints prompt and waits for one line of input.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.once.Do(func() { go c.reader() })
	fmt.Fprint(c.out, prompt)

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.line, r.err
	}
}

// Decision is the operator's answer to the continue prompt.
type Decision struct {
	Continue bool
	// Suffix is appended to the base remark for the next iteration.
	Suffix string
}

// ParseContinue interprets a continue answer: "0", "n", "no" and "N" stop;
// an answer starting with '_' continues with that suffix; anything else
// continues with the base remark.
func ParseContinue(answer string) Decision {
	switch answer {
	case "0", "n", "no", "N":
		return Decision{}
	}
	if strings.HasPrefix(answer, "_") {
		return Decision{Continue: true, Suffix: answer}
	}
	return Decision{Continue: true}
}

// ContinueFunc is asked after each measurement iteration.
type ContinueFunc func(ctx context.Context, iteration int) (Decision, error)

// PromptContinue asks op after every iteration. End of input stops.
func PromptContinue(op Operator) ContinueFunc {
	return func(ctx context.Context, iteration int) (Decision, error) {
		answer, err := op.Ask(ctx, "continue? ")
		if errors.Is(err, io.EOF) {
			return Decision{}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		return ParseContinue(answer), nil
	}
}

// StopAfter continues until n iterations have run.
func StopAfter(n int) ContinueFunc {
	return func(ctx context.Context, iteration int) (Decision, error) {
		return Decision{Continue: iteration < n}, nil
	}
}

// ScriptedOperator answers prompts from a fixed list and records them.
type ScriptedOperator struct {
	Answers []string
	Prompts []string
}

// Ask returns the next scripted answer, or io.EOF when none remain.
func (s *ScriptedOperator) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Prompts = append(s.Prompts, prompt)
	if len(s.Answers) == 0 {
		return "", io.EOF
	}
	a := s.Answers[0]
	s.Answers = s.Answers[1:]
	return a, nil
}
