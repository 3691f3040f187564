package httpapi

import "github.com/taskyard/overseer/internal/store"

// createProjectRequest mirrors store.Task's JSON shape for POST
// /api/projects and the patch body for PUT /api/projects/:id. It
// keeps environment_variables loosely typed so non-string values can
// be rejected explicitly rather than silently coerced or dropped by
// encoding/json, and auto_restart as *bool so PUT can tell "omitted"
// apart from "explicitly set to false" — every other field already
// has a usable zero value for that distinction, but false is a
// meaningful value for auto_restart.
type createProjectRequest struct {
	ID                     string         `json:"id"`
	Name                   string         `json:"name"`
	Description            string         `json:"description"`
	Group                  string         `json:"group"`
	Category               store.Category `json:"category"`
	Notes                  string         `json:"notes"`
	WorkingDirectory       string         `json:"working_directory"`
	StartCommand           string         `json:"start_command"`
	StopCommand            string         `json:"stop_command"`
	Port                   int            `json:"port"`
	EnvironmentVars        map[string]any `json:"environment_variables"`
	AutoRestart            *bool          `json:"auto_restart"`
	MaxRestarts            int            `json:"max_restarts"`
	RestartIntervalSeconds int            `json:"restart_interval"`
	ScheduledStart         string         `json:"scheduled_start"`
	ScheduledStop          string         `json:"scheduled_stop"`
}

func (r createProjectRequest) toTask() (store.Task, error) {
	env, err := stringEnv(r.EnvironmentVars)
	if err != nil {
		return store.Task{}, err
	}
	return store.Task{
		ID:                     r.ID,
		Name:                   r.Name,
		Description:            r.Description,
		Group:                  r.Group,
		Category:               r.Category,
		Notes:                  r.Notes,
		WorkingDirectory:       r.WorkingDirectory,
		StartCommand:           r.StartCommand,
		StopCommand:            r.StopCommand,
		Port:                   r.Port,
		EnvironmentVars:        env,
		AutoRestart:            r.AutoRestart != nil && *r.AutoRestart,
		AutoRestartSet:         r.AutoRestart != nil,
		MaxRestarts:            r.MaxRestarts,
		RestartIntervalSeconds: r.RestartIntervalSeconds,
		ScheduledStart:         r.ScheduledStart,
		ScheduledStop:          r.ScheduledStop,
	}, nil
}

type startRequest struct {
	ID               string         `json:"id"`
	StartCommand     string         `json:"start_command"`
	WorkingDirectory string         `json:"working_directory"`
	EnvironmentVars  map[string]any `json:"environment_variables"`
	StartupTimeoutMS int            `json:"startup_timeout_ms"`
}

type stopRequest struct {
	ID               string         `json:"id"`
	StopCommand      string         `json:"stop_command"`
	WorkingDirectory string         `json:"working_directory"`
	EnvironmentVars  map[string]any `json:"environment_variables"`
}

type restartRequest struct {
	ID               string         `json:"id"`
	StartCommand     string         `json:"start_command"`
	StopCommand      string         `json:"stop_command"`
	WorkingDirectory string         `json:"working_directory"`
	EnvironmentVars  map[string]any `json:"environment_variables"`
	StartupTimeoutMS int            `json:"startup_timeout_ms"`
}

type killRequest struct {
	PID    int    `json:"pid"`
	Signal string `json:"signal"`
}

// stringEnv rejects any non-string environment variable value rather
// than coercing it.
func stringEnv(raw map[string]any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, store.NewValidationError("environment_variables.%s must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}
