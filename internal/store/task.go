// Package store persists task configuration, the durable half of the
// supervisor's data model. Runtime fields never reach disk.
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Category is a small enumeration of free-form task categories.
type Category string

const (
	CategoryService Category = "service"
	CategoryScript  Category = "script"
	CategoryJob     Category = "job"
	CategoryOther   Category = "other"
)

// Task is the persisted configuration for a supervised command.
//
// Status and RuntimePID are runtime-only and are always stripped
// before a Task is written to disk; see sanitizeForPersist.
type Task struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Group       string   `json:"group,omitempty"`
	Category    Category `json:"category,omitempty"`
	Notes       string   `json:"notes,omitempty"`

	WorkingDirectory string            `json:"working_directory,omitempty"`
	StartCommand     string            `json:"start_command"`
	StopCommand      string            `json:"stop_command,omitempty"`
	Port             int               `json:"port,omitempty"`
	EnvironmentVars  map[string]string `json:"environment_variables,omitempty"`

	AutoRestart              bool `json:"auto_restart"`
	MaxRestarts              int  `json:"max_restarts"`
	RestartIntervalSeconds   int  `json:"restart_interval"`
	RestartCount             int  `json:"restart_count"`
	ManualStopped            bool `json:"manual_stopped"`
	WasRunningBeforeShutdown bool `json:"was_running_before_shutdown"`

	// AutoRestartSet is a patch-only hint: true when a caller to
	// Update explicitly supplied auto_restart, as opposed to it
	// defaulting to false because the field was simply absent from a
	// partial PUT body. AutoRestart has no zero-value sentinel of its
	// own (unlike the string/int fields mergeTask guards with a
	// "!= zero" check), so presence has to be tracked out of band.
	// Never persisted.
	AutoRestartSet bool `json:"-"`

	ScheduledStart string `json:"scheduled_start,omitempty"`
	ScheduledStop  string `json:"scheduled_stop,omitempty"`

	LastStarted *time.Time `json:"last_started,omitempty"`
	CreatedDate time.Time  `json:"created_date"`
	UpdatedDate time.Time  `json:"updated_date"`

	// Status and RuntimePID are accepted on write requests for client
	// convenience but are never persisted; see sanitizeForPersist.
	Status     string `json:"status,omitempty"`
	RuntimePID int    `json:"runtime_pid,omitempty"`
}

// sanitizeForPersist returns a copy of t with runtime-only fields
// cleared before the task is written to disk.
func (t Task) sanitizeForPersist() Task {
	t.Status = ""
	t.RuntimePID = 0
	return t
}

// Clone returns a deep-enough copy of t safe to hand to callers outside
// the store's lock.
func (t Task) Clone() Task {
	clone := t
	if t.EnvironmentVars != nil {
		clone.EnvironmentVars = make(map[string]string, len(t.EnvironmentVars))
		for k, v := range t.EnvironmentVars {
			clone.EnvironmentVars[k] = v
		}
	}
	if t.LastStarted != nil {
		ts := *t.LastStarted
		clone.LastStarted = &ts
	}
	return clone
}

// GenerateID produces a task id of the form "proj_<base36 ts><base36 rand>".
func GenerateID() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	suffix, err := randomBase36(8)
	if err != nil {
		// crypto/rand failure is effectively unrecoverable entropy
		// starvation; fall back to the nanosecond timestamp alone
		// rather than fail task creation outright.
		suffix = strconv.FormatInt(time.Now().UnixNano()%1e12, 36)
	}
	return "proj_" + ts + suffix
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36Alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// ValidationError signals a client-correctable input problem (HTTP 400),
// as opposed to a storage or OS failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
