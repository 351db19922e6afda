package registry

import (
	"errors"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// ErrNoProcess is returned when a pid is not running.
var ErrNoProcess = errors.New("no such process")

// Process is a live process that can be inspected and signalled.
type Process interface {
	Record() (Record, error)
	Terminate() error
	Kill() error
	Running() (bool, error)
}

// ProcessTable looks up live processes.
type ProcessTable interface {
	Find(pid int) (Process, error)
}

// SystemTable is the host process table.
type SystemTable struct{}

// Find implements ProcessTable.
func (SystemTable) Find(pid int) (Process, error) {
	p, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, ErrNoProcess
	}
	if err != nil {
		return nil, err
	}
	return &sysProcess{p: p}, nil
}

type sysProcess struct {
	p *process.Process
}

func (s *sysProcess) Record() (Record, error) {
	name, err := s.p.Name()
	if err != nil {
		return Record{}, err
	}
	user, err := s.p.Username()
	if err != nil {
		return Record{}, err
	}
	cmdline, err := s.p.CmdlineSlice()
	if err != nil {
		return Record{}, err
	}
	created, err := s.p.CreateTime()
	if err != nil {
		return Record{}, err
	}
	seconds := float64(created) / 1000
	return Record{
		PID:        int(s.p.Pid),
		Name:       name,
		Username:   user,
		Cmdline:    cmdline,
		CreateTime: &seconds,
	}, nil
}

func (s *sysProcess) Terminate() error { return s.signal(unix.SIGTERM) }

func (s *sysProcess) Kill() error { return s.signal(unix.SIGKILL) }

func (s *sysProcess) signal(sig unix.Signal) error {
	err := unix.Kill(int(s.p.Pid), sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Running reports false once the pid is gone or reused by another process.
func (s *sysProcess) Running() (bool, error) { return s.p.IsRunning() }

// FakeProcess is an in-memory process for tests.
type FakeProcess struct {
	mu  sync.Mutex
	rec Record

	running bool

	// ExitOnTerm makes Terminate stop the process.
	ExitOnTerm bool

	Terms int
	Kills int
}

// Record implements Process.
func (f *FakeProcess) Record() (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec, nil
}

// Terminate implements Process.
func (f *FakeProcess) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Terms++
	if f.ExitOnTerm {
		f.running = false
	}
	return nil
}

// Kill implements Process.
func (f *FakeProcess) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Kills++
	f.running = false
	return nil
}

// Running implements Process.
func (f *FakeProcess) Running() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

// Counts returns the number of Terminate and Kill calls.
func (f *FakeProcess) Counts() (terms, kills int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Terms, f.Kills
}

// FakeTable is an in-memory ProcessTable.
type FakeTable struct {
	mu    sync.Mutex
	procs map[int]*FakeProcess
}

// NewFakeTable creates an empty table.
func NewFakeTable() *FakeTable {
	return &FakeTable{procs: make(map[int]*FakeProcess)}
}

// Add registers a running process described by rec.
func (t *FakeTable) Add(rec Record) *FakeProcess {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &FakeProcess{rec: rec, running: true}
	t.procs[rec.PID] = p
	return p
}

// Find implements ProcessTable.
func (t *FakeTable) Find(pid int) (Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return nil, ErrNoProcess
	}
	return p, nil
}
