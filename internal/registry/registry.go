// Package registry keeps a directory of process records so that one process
// can find and stop the programs started by another.
//
// Each record is a file named after the pid, holding the JSON identity of the
// process. A record only counts if it still matches the live process, so a
// recycled pid is never signalled.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultDir is where records are kept.
const DefaultDir = "/tmp/buttonman"

// DefaultCloseTimeout bounds how long CloseAll waits before killing.
const DefaultCloseTimeout = 10 * time.Second

// defaultPoll is how often exit is checked while waiting.
const defaultPoll = 50 * time.Millisecond

// ErrRecordNotFound is returned when no record exists for a pid.
var ErrRecordNotFound = errors.New("record not found")

// RecordError reports a record that exists but cannot be read or parsed.
type RecordError struct {
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("bad record %s: %v", e.Path, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Outcome is the result of closing one registered process.
type Outcome string

const (
	// OutcomeTerminated means the process exited after SIGTERM.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeKilled means the process outlived the timeout and was killed.
	OutcomeKilled Outcome = "killed"
	// OutcomeSignalled means SIGTERM was sent and nobody waited.
	OutcomeSignalled Outcome = "signalled"
	// OutcomeMismatch means the record no longer described the live process.
	OutcomeMismatch Outcome = "mismatch"
)

// Record is the identity of a registered process. Cmdline and CreateTime
// are absent in records written by older versions.
type Record struct {
	PID        int      `json:"pid"`
	Name       string   `json:"name"`
	Username   string   `json:"username"`
	Cmdline    []string `json:"cmdline,omitempty"`
	CreateTime *float64 `json:"create_time,omitempty"`
}

// Matches reports whether live describes the same process as r.
func (r Record) Matches(live Record) bool {
	if r.PID != live.PID || r.Name != live.Name || r.Username != live.Username {
		return false
	}
	if r.Cmdline == nil || r.CreateTime == nil {
		return true
	}
	if len(r.Cmdline) != len(live.Cmdline) {
		return false
	}
	for i := range r.Cmdline {
		if r.Cmdline[i] != live.Cmdline[i] {
			return false
		}
	}
	if live.CreateTime == nil {
		return false
	}
	return math.Round(*r.CreateTime*1000) == math.Round(*live.CreateTime*1000)
}

// Registry reads and writes records in one directory.
type Registry struct {
	dir   string
	procs ProcessTable
	self  int
	poll  time.Duration
}

// New creates a Registry over dir using procs to inspect live processes.
func New(dir string, procs ProcessTable) *Registry {
	return &Registry{
		dir:   dir,
		procs: procs,
		self:  os.Getpid(),
		poll:  defaultPoll,
	}
}

// NewSystem creates a Registry over the host process table.
func NewSystem(dir string) *Registry {
	return New(dir, SystemTable{})
}

// Dir returns the record directory.
func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) path(pid int) string {
	return filepath.Join(r.dir, strconv.Itoa(pid))
}

// Register writes a record for pid, creating the directory if needed.
func (r *Registry) Register(pid int) error {
	proc, err := r.procs.Find(pid)
	if err != nil {
		return fmt.Errorf("find %d: %w", pid, err)
	}
	rec, err := proc.Record()
	if err != nil {
		return fmt.Errorf("inspect %d: %w", pid, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o777); err != nil {
		return fmt.Errorf("create %s: %w", r.dir, err)
	}
	if err := os.WriteFile(r.path(pid), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// RegisterSelf writes a record for the calling process.
func (r *Registry) RegisterSelf() error {
	return r.Register(r.self)
}

// UnregisterSelf removes the calling process's record. With checkMatch the
// record is only removed if it still describes this process.
func (r *Registry) UnregisterSelf(checkMatch bool) error {
	path := r.path(r.self)
	if checkMatch {
		rec, err := ReadRecord(path)
		if err != nil {
			return err
		}
		if !r.matches(r.self, rec) {
			log.Warnf("registry: record %s describes another process, leaving it", path)
			return nil
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReadRecord loads one record file.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
	}
	if err != nil {
		return Record{}, &RecordError{Path: path, Err: err}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &RecordError{Path: path, Err: err}
	}
	return rec, nil
}

// List returns the pids with a record, in ascending order.
func (r *Registry) List() ([]int, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func (r *Registry) remove(pid int) {
	if err := os.Remove(r.path(pid)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("registry: remove record %d: %v", pid, err)
	}
}

func (r *Registry) matches(pid int, rec Record) bool {
	proc, err := r.procs.Find(pid)
	if err != nil {
		return false
	}
	live, err := proc.Record()
	if err != nil {
		return false
	}
	return rec.Matches(live)
}

// signal sends SIGTERM to pid if its record matches. Stale and unreadable
// records are removed.
func (r *Registry) signal(pid int) (Process, Outcome, error) {
	rec, err := ReadRecord(r.path(pid))
	if err != nil {
		var recErr *RecordError
		if errors.As(err, &recErr) {
			r.remove(pid)
		}
		return nil, "", err
	}

	proc, err := r.procs.Find(pid)
	if err != nil {
		r.remove(pid)
		return nil, OutcomeMismatch, nil
	}
	live, err := proc.Record()
	if err != nil || !rec.Matches(live) {
		r.remove(pid)
		return nil, OutcomeMismatch, nil
	}

	if err := proc.Terminate(); err != nil {
		return nil, "", fmt.Errorf("terminate %d: %w", pid, err)
	}
	return proc, OutcomeSignalled, nil
}

// Close stops the registered process pid. With a positive timeout it waits
// for exit, kills on expiry and removes the record. Otherwise it returns
// OutcomeSignalled right after SIGTERM and leaves the record in place.
func (r *Registry) Close(ctx context.Context, pid int, timeout time.Duration) (Outcome, error) {
	proc, outcome, err := r.signal(pid)
	if err != nil || outcome != OutcomeSignalled {
		return outcome, err
	}
	if timeout <= 0 {
		return OutcomeSignalled, nil
	}

	outcome = OutcomeTerminated
	if !r.waitExit(ctx, proc, timeout) {
		if err := proc.Kill(); err != nil {
			return "", fmt.Errorf("kill %d: %w", pid, err)
		}
		outcome = OutcomeKilled
	}
	r.remove(pid)
	return outcome, nil
}

// CloseAll signals every registered process except the caller, waits up to
// timeout for all of them together, kills survivors and removes their
// records. Record errors are collected and returned after the sweep.
func (r *Registry) CloseAll(ctx context.Context, timeout time.Duration) (terminated, killed []int, err error) {
	pids, err := r.List()
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", r.dir, err)
	}

	type pending struct {
		pid  int
		proc Process
	}
	var (
		waiting []pending
		errs    []error
	)
	for _, pid := range pids {
		if pid == r.self {
			continue
		}
		proc, outcome, err := r.signal(pid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome == OutcomeMismatch {
			log.Infof("registry: pid %d no longer matches its record, dropped", pid)
			continue
		}
		waiting = append(waiting, pending{pid: pid, proc: proc})
	}

	var (
		mu    sync.Mutex
		alive []pending
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range waiting {
		p := p
		g.Go(func() error {
			exited := r.waitExit(gctx, p.proc, timeout)
			mu.Lock()
			defer mu.Unlock()
			if exited {
				terminated = append(terminated, p.pid)
			} else {
				alive = append(alive, p)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range alive {
		if err := p.proc.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", p.pid, err))
		}
		killed = append(killed, p.pid)
	}
	for _, p := range waiting {
		r.remove(p.pid)
	}

	sort.Ints(terminated)
	sort.Ints(killed)
	return terminated, killed, errors.Join(errs...)
}

// waitExit polls until proc exits, the timeout expires or ctx ends.
func (r *Registry) waitExit(ctx context.Context, proc Process, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		running, err := proc.Running()
		if err == nil && !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
