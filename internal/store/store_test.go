package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	return s
}

func TestCreateAssignsIDAndPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	created, err := s.Create(Task{Name: "api", StartCommand: "go run ./cmd/api"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedDate.IsZero())

	data, err := os.ReadFile(filepath.Join(dir, "task", "tasks.json"))
	require.NoError(t, err)

	var onDisk []Task
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 1)
	require.Equal(t, created.ID, onDisk[0].ID)
}

func TestCreateRejectsMissingStartCommand(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(Task{Name: "no-command"})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestCreateRejectsEmptyEnvironmentKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(Task{
		Name:            "bad-env",
		StartCommand:    "echo hi",
		EnvironmentVars: map[string]string{"": "x"},
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

// runtime-only fields never survive a round trip through disk.
func TestPersistedTasksNeverCarryRuntimeFields(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	created, err := s.Create(Task{
		Name:         "svc",
		StartCommand: "sleep 1",
		Status:       "running",
		RuntimePID:   12345,
	})
	require.NoError(t, err)
	require.Empty(t, created.Status)
	require.Zero(t, created.RuntimePID)

	data, err := os.ReadFile(filepath.Join(dir, "task", "tasks.json"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "runtime_pid")
}

// Create with an explicit duplicate id returns the existing task
// rather than overwriting it.
func TestCreateWithDuplicateIDReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Create(Task{ID: "proj_fixed", Name: "first", StartCommand: "echo 1"})
	require.NoError(t, err)

	second, err := s.Create(Task{ID: "proj_fixed", Name: "second", StartCommand: "echo 2"})
	require.NoError(t, err)
	require.Equal(t, first.Name, second.Name)
	require.Len(t, s.List(), 1)
}

func TestUpdateMergesNonZeroFields(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(Task{Name: "svc", StartCommand: "echo hi", MaxRestarts: 3})
	require.NoError(t, err)

	updated, err := s.Update(created.ID, Task{Description: "now with a description"})
	require.NoError(t, err)
	require.Equal(t, "svc", updated.Name)
	require.Equal(t, "now with a description", updated.Description)
	require.Equal(t, 3, updated.MaxRestarts)
	require.True(t, updated.UpdatedDate.After(created.UpdatedDate) || updated.UpdatedDate.Equal(created.UpdatedDate))
}

// A PUT-style patch that omits auto_restart entirely (AutoRestartSet
// false) must never flip a task's existing auto_restart back to
// false; only a patch that explicitly sets it (AutoRestartSet true)
// may change it.
func TestUpdatePreservesAutoRestartWhenOmittedFromPatch(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(Task{Name: "svc", StartCommand: "echo hi", AutoRestart: true})
	require.NoError(t, err)
	require.True(t, created.AutoRestart)

	updated, err := s.Update(created.ID, Task{Name: "svc renamed"})
	require.NoError(t, err)
	require.Equal(t, "svc renamed", updated.Name)
	require.True(t, updated.AutoRestart, "auto_restart must survive a patch that doesn't mention it")

	flipped, err := s.Update(created.ID, Task{AutoRestart: false, AutoRestartSet: true})
	require.NoError(t, err)
	require.False(t, flipped.AutoRestart, "an explicit auto_restart:false must still take effect")
}

func TestUpdateUnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update("proj_missing", Task{Name: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(Task{Name: "svc", StartCommand: "echo hi"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(created.ID))
	require.NoError(t, s.Delete(created.ID))
	require.Empty(t, s.List())
}

// Dedupe, given duplicate ids on disk, keeps the entry with the
// newest updated_date.
func TestDedupeKeepsNewestUpdatedDate(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "task")
	require.NoError(t, os.MkdirAll(taskDir, 0o755))

	older := Task{
		ID: "proj_dup", Name: "older", StartCommand: "echo old",
		CreatedDate: time.Now().Add(-time.Hour), UpdatedDate: time.Now().Add(-time.Hour),
	}
	newer := Task{
		ID: "proj_dup", Name: "newer", StartCommand: "echo new",
		CreatedDate: time.Now().Add(-time.Hour), UpdatedDate: time.Now(),
	}
	data, err := json.Marshal([]Task{older, newer})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, tasksFileName), data, 0o644))

	s, err := New(dir, nil)
	require.NoError(t, err)

	removed, total := s.Dedupe()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, total)

	got, ok := s.Get("proj_dup")
	require.True(t, ok)
	require.Equal(t, "newer", got.Name)
}

func TestLoadToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	require.Empty(t, s.List())
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "task")
	require.NoError(t, os.MkdirAll(taskDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, tasksFileName), []byte("{not json"), 0o644))

	s, err := New(dir, nil)
	require.NoError(t, err)
	require.Empty(t, s.List())
}

func TestMarkUserStartResetsRestartCount(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(Task{Name: "svc", StartCommand: "echo hi"})
	require.NoError(t, err)
	require.NoError(t, s.IncrementGuardianFailure(created.ID))
	require.NoError(t, s.IncrementGuardianFailure(created.ID))

	require.NoError(t, s.MarkUserStart(created.ID))
	got, ok := s.Get(created.ID)
	require.True(t, ok)
	require.Zero(t, got.RestartCount)
	require.True(t, got.WasRunningBeforeShutdown)
	require.False(t, got.ManualStopped)
}

func TestIncrementGuardianFailureDoesNotTouchUpdatedDate(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(Task{Name: "svc", StartCommand: "echo hi"})
	require.NoError(t, err)

	require.NoError(t, s.IncrementGuardianFailure(created.ID))
	got, ok := s.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, 1, got.RestartCount)
	require.Equal(t, created.UpdatedDate, got.UpdatedDate)
}

func TestCloneIsIndependent(t *testing.T) {
	t1 := Task{EnvironmentVars: map[string]string{"A": "1"}}
	c := t1.Clone()
	c.EnvironmentVars["A"] = "2"
	require.Equal(t, "1", t1.EnvironmentVars["A"])
}
