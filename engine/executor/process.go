package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	EnvGateMode = "RELAY_GATE_MODE"
	EnvRunID    = "RELAY_RUN_ID"
	EventStderr = "stderr"

	processWaitDelay = 5 * time.Second
	maxLineSize      = 1 << 20
)

// ParseCommand splits a configured interpreter command line.
func ParseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}
	if strings.ContainsAny(command, "\r\n") {
		return nil, fmt.Errorf("command cannot contain newlines")
	}
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("command cannot be empty after parsing")
	}
	if strings.HasPrefix(parts[0], "-") {
		return nil, fmt.Errorf("command name cannot start with dash")
	}
	return parts, nil
}

// ProcessInterpreter delegates execution to an external interpreter
// process. The workflow path is appended as the last argument, variables are
// written to stdin as a JSON object, and each stdout line is reported as an
// event (JSON lines with type/step/message fields are decoded).
type ProcessInterpreter struct {
	argv []string
}

func NewProcessInterpreter(argv []string) (*ProcessInterpreter, error) {
	if len(argv) == 0 {
		return nil, ErrNoInterpreter
	}
	return &ProcessInterpreter{argv: append([]string(nil), argv...)}, nil
}

func (p *ProcessInterpreter) Execute(ctx context.Context, inv Invocation, events chan<- Event) (Status, error) {
	input, err := json.Marshal(inv.Variables)
	if err != nil {
		return StatusFailure, fmt.Errorf("failed to encode variables: %w", err)
	}
	args := append(append([]string(nil), p.argv[1:]...), inv.Path)
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	cmd.Dir = inv.RepoPath
	cmd.Env = append(os.Environ(), EnvGateMode+"="+string(inv.GateMode), EnvRunID+"="+inv.RunID)
	cmd.Stdin = strings.NewReader(string(input))
	cmd.WaitDelay = processWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return StatusFailure, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return StatusFailure, fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return StatusFailure, fmt.Errorf("failed to start interpreter: %w", err)
	}
	var g errgroup.Group
	g.Go(func() error { return pump(stdout, events, decodeLine) })
	g.Go(func() error {
		return pump(stderr, events, func(line string) Event { return Event{Type: EventStderr, Message: line} })
	})
	pumpErr := g.Wait()
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return StatusFailure, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return StatusFailure, fmt.Errorf("interpreter exited with code %d", exitErr.ExitCode())
		}
		return StatusFailure, fmt.Errorf("interpreter failed: %w", waitErr)
	}
	if pumpErr != nil {
		return StatusFailure, fmt.Errorf("failed to read interpreter output: %w", pumpErr)
	}
	return StatusSuccess, nil
}

func pump(r io.Reader, events chan<- Event, decode func(string) Event) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ev := decode(line)
		ev.Time = time.Now()
		if events != nil {
			events <- ev
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func decodeLine(line string) Event {
	if !gjson.Valid(line) {
		return Event{Type: EventOutput, Message: line}
	}
	res := gjson.Parse(line)
	typ := res.Get("type").String()
	if !res.IsObject() || typ == "" {
		return Event{Type: EventOutput, Message: line}
	}
	return Event{Type: typ, Step: res.Get("step").String(), Message: res.Get("message").String()}
}
