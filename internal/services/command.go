package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Executor runs an external binary, forwarding each line of output to onLine.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// CommandError reports a non-zero exit together with the tail of the output.
type CommandError struct {
	Binary   string
	ExitCode int
	Tail     []string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Binary, e.ExitCode)
	if len(e.Tail) > 0 {
		msg += ": " + strings.Join(e.Tail, " | ")
	}
	return msg
}

const (
	outputTailLines = 8
	// commandWaitDelay bounds how long Wait keeps draining output after the
	// process group was killed.
	commandWaitDelay = 2 * time.Second
)

// NewExecutor returns the process-backed executor. Each env entry is a
// KEY=VALUE pair appended to the inherited environment.
func NewExecutor(env ...string) Executor {
	return commandExecutor{env: append([]string(nil), env...)}
}

type commandExecutor struct {
	env []string
}

func (e commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	// FSL commands are shell wrappers. The tool gets its own process group so
	// cancellation also reaches the children holding the output pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = commandWaitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tail    []string
		scanErr error
		once    sync.Once
	)

	forward := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		tail = append(tail, line)
		if len(tail) > outputTailLines {
			tail = tail[len(tail)-outputTailLines:]
		}
		if onLine != nil {
			onLine(line)
		}
	}

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
			// Keep draining so the process never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdoutR)
	go scan(stderrR)
	closeOutput := func() {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		wg.Wait()
	}

	if err := cmd.Start(); err != nil {
		closeOutput()
		return fmt.Errorf("start %s: %w", binary, err)
	}
	waitErr := cmd.Wait()
	closeOutput()

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", binary, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &CommandError{Binary: binary, ExitCode: exitErr.ExitCode(), Tail: tail}
		}
		return fmt.Errorf("wait %s: %w", binary, waitErr)
	}
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	return nil
}
