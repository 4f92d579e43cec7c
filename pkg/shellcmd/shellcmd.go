// Package shellcmd abstracts the subprocess-heavy I/O the engine depends
// on (ip, tc, iptables, sysctl, ping, mmcli, tailscale, …) behind a small
// interface so components can be tested without shelling out for real
// (§9 "Subprocess-heavy I/O").
package shellcmd

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Result is a typed, non-error outcome of a shell-out. A non-zero exit
// code or a timeout is represented here, not as a Go error — per §7,
// transient I/O is a captured result, not a propagated exception.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Succeeded reports whether the command exited zero and did not time out.
func (r Result) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner executes a command with a per-call timeout. Production code
// uses Real; tests inject Fake.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
}

// Real shells out via os/exec.
type Real struct{}

func (Real) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if cctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res
	}
	res.ExitCode = 0
	return res
}

// RunRetry wraps a Runner invocation with bounded retry/backoff, for the
// rare shell-outs (VPN CLI, modem HTTP-over-exec bridges) that are known
// to be flaky under load but must eventually succeed within the caller's
// budget.
func RunRetry(ctx context.Context, r Runner, timeout time.Duration, attempts uint, name string, args ...string) Result {
	var last Result
	_ = retry.Do(
		func() error {
			last = r.Run(ctx, timeout, name, args...)
			if !last.Succeeded() {
				return errNotOK
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return last
}

var errNotOK = &shellError{"command did not succeed"}

type shellError struct{ msg string }

func (e *shellError) Error() string { return e.msg }
