package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Runner starts external commands.
type Runner interface {
	// Start launches a command without waiting for it.
	Start(name string, args ...string) error
	// Run launches a command and waits for it to exit.
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. Output goes to the daemon's
// stdout/stderr so it lands in the journal.
type ExecRunner struct{}

// Start launches the command and reaps it in the background.
func (ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	log.Infof("actions: started %s (pid %d)", commandLine(name, args), pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warnf("actions: pid %d exited: %v", pid, err)
			return
		}
		log.Debugf("actions: pid %d exited", pid)
	}()
	return nil
}

// Run executes the command to completion. Cancelling ctx kills it.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Infof("actions: running %s", commandLine(name, args))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", commandLine(name, args), err)
	}
	return nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Call is one command seen by FakeRunner.
type Call struct {
	Name string
	Args []string
	Wait bool
}

// FakeRunner records commands instead of running them.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Call

	// Errors maps a command name to the error returned for it.
	Errors map[string]error
	// OnRun is called during Run, before it returns.
	OnRun func(Call)
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Errors: make(map[string]error)}
}

// Start implements Runner.
func (f *FakeRunner) Start(name string, args ...string) error {
	return f.record(Call{Name: name, Args: args})
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) error {
	c := Call{Name: name, Args: args, Wait: true}
	if f.OnRun != nil {
		f.OnRun(c)
	}
	return f.record(c)
}

func (f *FakeRunner) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.Errors[c.Name]
}

// Calls returns a copy of the recorded commands.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CommandLines returns the recorded commands joined with spaces.
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = commandLine(c.Name, c.Args)
	}
	return out
}
