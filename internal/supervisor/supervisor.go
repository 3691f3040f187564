// Package supervisor drives the start/stop/restart state machine: it
// owns the startup validation window, funnels child output into log
// buffers, and keeps the task store's runtime-adjacent flags
// (was_running_before_shutdown, manual_stopped, restart_count) in sync
// with what actually happened.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taskyard/overseer/internal/discovery"
	"github.com/taskyard/overseer/internal/launcher"
	"github.com/taskyard/overseer/internal/logbuf"
	"github.com/taskyard/overseer/internal/registry"
	"github.com/taskyard/overseer/internal/store"
)

// DefaultStartupTimeout is used when a caller supplies no
// startup_timeout_ms.
const DefaultStartupTimeout = 2 * time.Second

// Supervisor is the process-facing half of the system: the Task Store
// feeds it configuration, the Process Registry and Log Buffers receive
// its effects.
type Supervisor struct {
	store    *store.Store
	registry *registry.Registry
	logBufs  *logbuf.Registry
	logger   *slog.Logger
	baseDir  string
}

// New builds a Supervisor. baseDir is the fallback working directory
// for tasks that specify none or an invalid one.
func New(st *store.Store, reg *registry.Registry, logBufs *logbuf.Registry, baseDir string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Supervisor{store: st, registry: reg, logBufs: logBufs, logger: logger, baseDir: baseDir}
}

// recoveryHintDir holds one small JSON file per running task id,
// recording the pid and command it was last launched with. These are
// not part of the task store's tasks.json (runtime state never
// belongs there, per the store's own P1 contract) — they exist purely
// so Recover can re-attach to children left running after an
// ungraceful overseerd exit.
const recoveryHintDir = "run"

type recoveryHint struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

func (s *Supervisor) hintPath(id string) string {
	return filepath.Join(s.baseDir, "task", recoveryHintDir, id+".pid")
}

func (s *Supervisor) writeHint(id string, pid int, command string) {
	dir := filepath.Join(s.baseDir, "task", recoveryHintDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("create recovery hint dir failed", "error", err)
		return
	}
	data, err := json.Marshal(recoveryHint{PID: pid, Command: command})
	if err != nil {
		return
	}
	if err := os.WriteFile(s.hintPath(id), data, 0o644); err != nil {
		s.logger.Warn("write recovery hint failed", "id", id, "error", err)
	}
}

func (s *Supervisor) removeHint(id string) {
	_ = os.Remove(s.hintPath(id))
}

type waitResult struct {
	code   int
	signal string
	err    error
}

// Start launches startCommand for id, replacing any existing live
// entry, and blocks for the startup validation window before deciding
// success or failure.
func (s *Supervisor) Start(ctx context.Context, id, startCommand, workingDirectory string, env map[string]string, startupTimeoutMS int) (StartResult, error) {
	if strings.TrimSpace(id) == "" {
		return StartResult{}, store.NewValidationError("id is required")
	}
	if strings.TrimSpace(startCommand) == "" {
		return StartResult{}, store.NewValidationError("start_command is required")
	}

	unlock := s.registry.Lock(id)
	defer unlock()

	return s.startLocked(ctx, id, startCommand, workingDirectory, env, startupTimeoutMS)
}

// startLocked assumes the caller already holds the per-id registry
// lock, so Restart can sequence stopLocked then startLocked without a
// self-deadlock.
func (s *Supervisor) startLocked(ctx context.Context, id, startCommand, workingDirectory string, env map[string]string, startupTimeoutMS int) (StartResult, error) {
	s.terminatePrevious(id)

	dir := s.resolveWorkingDir(workingDirectory)
	fullEnv := mergeEnv(os.Environ(), env)

	buf := s.logBufs.For(id)
	buf.Clear()

	handle, err := launcher.Launch(ctx, startCommand, dir, fullEnv)
	if err != nil {
		buf.Append(logbuf.Stderr, err.Error())
		stdout, stderr := buf.Snapshot()
		return StartResult{OK: false, Error: err.Error(), Stdout: stdout, Stderr: stderr}, nil
	}

	entry := s.registry.Put(id, startCommand, dir, env, handle, buf)
	s.writeHint(id, handle.PID, startCommand)

	go launcher.StreamLines(handle.Stdout(), func(line string) { buf.Append(logbuf.Stdout, line) })
	go launcher.StreamLines(handle.Stderr(), func(line string) { buf.Append(logbuf.Stderr, line) })

	if err := s.store.MarkUserStart(id); err != nil && err != store.ErrNotFound {
		s.logger.Error("mark user start failed", "id", id, "error", err)
	}

	timeout := time.Duration(startupTimeoutMS) * time.Millisecond
	if startupTimeoutMS <= 0 {
		timeout = DefaultStartupTimeout
	}

	waitCh := make(chan waitResult, 1)
	go func() {
		code, signal, waitErr := handle.Wait()
		entry.MarkStopped(code, signal)
		s.removeHint(id)
		waitCh <- waitResult{code: code, signal: signal, err: waitErr}
	}()

	select {
	case res := <-waitCh:
		stdout, stderr := buf.Snapshot()
		return StartResult{
			OK:     false,
			Error:  fmt.Sprintf("process exited during startup window: %v", res.err),
			Code:   intPtr(res.code),
			Signal: res.signal,
			Stdout: stdout,
			Stderr: stderr,
		}, nil
	case <-time.After(timeout):
		return StartResult{OK: true, PID: handle.PID}, nil
	}
}

// Stop tree-terminates id's live entry if running, falling back to
// stopCommand on tree-kill failure or absence of a live entry.
func (s *Supervisor) Stop(ctx context.Context, id, stopCommand, workingDirectory string, env map[string]string) (StopResult, error) {
	if strings.TrimSpace(id) == "" {
		return StopResult{}, store.NewValidationError("id is required")
	}

	unlock := s.registry.Lock(id)
	defer unlock()

	return s.stopLocked(ctx, id, stopCommand, workingDirectory, env)
}

func (s *Supervisor) stopLocked(ctx context.Context, id, stopCommand, workingDirectory string, env map[string]string) (StopResult, error) {
	entry, ok := s.registry.Get(id)
	if ok {
		if running, _ := entry.IsRunning(); running {
			if err := entry.Handle.TreeTerminate("SIGTERM", launcher.GraceWindow); err == nil {
				entry.MarkStopped(-1, "SIGTERM")
				s.removeHint(id)
				s.markStoppedInStore(id)
				return StopResult{OK: true}, nil
			}
			// tree-kill reported an error; fall through to stop_command.
		}
	}

	if strings.TrimSpace(stopCommand) == "" {
		s.markStoppedInStore(id)
		return StopResult{OK: true, Message: "not running"}, nil
	}

	dir := s.resolveWorkingDir(workingDirectory)
	fullEnv := mergeEnv(os.Environ(), env)

	h, err := launcher.Launch(ctx, stopCommand, dir, fullEnv)
	if err != nil {
		return StopResult{OK: false, Error: err.Error()}, nil
	}

	var stdout, stderr []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		launcher.StreamLines(h.Stdout(), func(l string) { mu.Lock(); stdout = append(stdout, l); mu.Unlock() })
	}()
	go func() {
		defer wg.Done()
		launcher.StreamLines(h.Stderr(), func(l string) { mu.Lock(); stderr = append(stderr, l); mu.Unlock() })
	}()
	code, _, _ := h.Wait()
	wg.Wait()

	s.markStoppedInStore(id)

	if code != 0 {
		return StopResult{OK: false, Error: fmt.Sprintf("stop_command exited %d", code), Stdout: stdout, Stderr: stderr}, nil
	}
	return StopResult{OK: true}, nil
}

func (s *Supervisor) markStoppedInStore(id string) {
	if err := s.store.MarkUserStop(id); err != nil && err != store.ErrNotFound {
		s.logger.Error("mark user stop failed", "id", id, "error", err)
	}
}

// Restart stops id then starts it again, reusing the live entry's
// command when startCommand is empty.
func (s *Supervisor) Restart(ctx context.Context, id, startCommand, stopCommand, workingDirectory string, env map[string]string, startupTimeoutMS int) (StartResult, error) {
	if strings.TrimSpace(id) == "" {
		return StartResult{}, store.NewValidationError("id is required")
	}

	unlock := s.registry.Lock(id)
	defer unlock()

	effectiveCommand := startCommand
	if strings.TrimSpace(effectiveCommand) == "" {
		if entry, ok := s.registry.Get(id); ok {
			effectiveCommand = entry.Command
		}
	}
	if strings.TrimSpace(effectiveCommand) == "" {
		return StartResult{}, store.NewValidationError("start_command is required when no previous live entry exists")
	}

	if _, err := s.stopLocked(ctx, id, stopCommand, workingDirectory, env); err != nil {
		return StartResult{}, err
	}

	return s.startLocked(ctx, id, effectiveCommand, workingDirectory, env, startupTimeoutMS)
}

// Status returns the derived runtime status for id.
func (s *Supervisor) Status(id string) StatusResult {
	entry, ok := s.registry.Get(id)
	if !ok {
		return StatusResult{Running: false, Status: "stopped"}
	}
	running, pid := entry.IsRunning()
	if running {
		return StatusResult{Running: true, Status: "running", PID: pid}
	}
	return StatusResult{Running: false, Status: "stopped"}
}

// Logs returns the current stdout/stderr snapshots for id, or two
// empty slices if there is no live entry.
func (s *Supervisor) Logs(id string) (stdout, stderr []string) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return nil, nil
	}
	return entry.Buffers.Snapshot()
}

// ClearLogs empties id's log buffers without touching the child.
func (s *Supervisor) ClearLogs(id string) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return
	}
	entry.Buffers.Clear()
}

// Shutdown tree-terminates every running live entry; called on
// SIGINT/SIGTERM during process exit.
func (s *Supervisor) Shutdown() {
	var wg sync.WaitGroup
	for _, entry := range s.registry.All() {
		running, _ := entry.IsRunning()
		if !running {
			continue
		}
		wg.Add(1)
		go func(e *registry.LiveEntry) {
			defer wg.Done()
			if err := e.Handle.TreeTerminate("SIGTERM", launcher.GraceWindow); err != nil {
				s.logger.Error("shutdown tree-terminate failed", "id", e.TaskID, "error", err)
				return
			}
			e.MarkStopped(-1, "SIGTERM")
			s.removeHint(e.TaskID)
		}(entry)
	}
	wg.Wait()
}

// Recover re-attaches the registry to processes that were already
// running when overseerd last exited without a graceful shutdown
// (crash, kill -9, power loss). It reads the recovery hint files left
// behind by startLocked, and for each one still holding a live pid
// whose command line still matches what was recorded, adopts it as a
// live entry with status running and fresh, empty log buffers (the
// original stdout/stderr pipes belonged to the dead process instance
// and cannot be recovered). Hints that no longer match a live,
// identity-verified process are discarded; those tasks are left to the
// guardian, which will restart them on its own eligibility rules if
// auto_restart is set. Intended to be called once at startup, before
// the HTTP listener accepts requests.
func (s *Supervisor) Recover(ctx context.Context) (recovered int, err error) {
	dir := filepath.Join(s.baseDir, "task", recoveryHintDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read recovery hints: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".pid") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".pid")
		if s.recoverOne(ctx, id) {
			recovered++
		}
	}
	return recovered, nil
}

func (s *Supervisor) recoverOne(ctx context.Context, id string) bool {
	data, err := os.ReadFile(s.hintPath(id))
	if err != nil {
		return false
	}
	var hint recoveryHint
	if err := json.Unmarshal(data, &hint); err != nil {
		s.removeHint(id)
		return false
	}

	task, ok := s.store.Get(id)
	if !ok {
		s.removeHint(id)
		return false
	}

	actualCmdline, alive := discovery.ProcessCommandLine(ctx, int32(hint.PID))
	if !alive || !strings.Contains(actualCmdline, hint.Command) {
		s.logger.Info("recovery hint stale, discarding", "id", id, "pid", hint.PID)
		s.removeHint(id)
		return false
	}

	handle, err := launcher.AdoptHandle(hint.PID)
	if err != nil {
		s.removeHint(id)
		return false
	}

	buf := s.logBufs.For(id)
	entry := s.registry.Put(id, hint.Command, task.WorkingDirectory, task.EnvironmentVars, handle, buf)

	go func() {
		code, signal, _ := handle.Wait()
		entry.MarkStopped(code, signal)
		s.removeHint(id)
	}()

	s.logger.Info("recovered live task", "id", id, "pid", hint.PID)
	return true
}

func (s *Supervisor) terminatePrevious(id string) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return
	}
	if running, _ := entry.IsRunning(); !running {
		return
	}
	if err := entry.Handle.TreeTerminate("SIGTERM", launcher.GraceWindow); err != nil {
		s.logger.Warn("terminate previous entry failed", "id", id, "error", err)
	}
	entry.MarkStopped(-1, "SIGTERM")
}

func (s *Supervisor) resolveWorkingDir(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return s.baseDir
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return s.baseDir
	}
	return dir
}

// mergeEnv applies task environment variables on top of the parent
// environment; task wins on conflict.
func mergeEnv(parent []string, task map[string]string) []string {
	merged := make(map[string]string, len(parent)+len(task))
	for _, kv := range parent {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range task {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
