package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a deployment command exceeds its timeout.
var ErrTimeout = errors.New("deployment command timed out")

// Param is a single key=value override passed to the deployment tool.
type Param struct {
	Key   string
	Value string
}

// Release describes a store deployment: the template to apply, the
// parameters to apply it with and the time it may take.
type Release struct {
	Name       string
	Namespace  string
	Chart      string
	ValuesFile string
	Params     []Param
	Timeout    time.Duration

	// LogWriter is an optional callback receiving each line of tool output
	// as it is produced.
	LogWriter func(line string)
}

// Result is the outcome of a deployment command.
type Result struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	DurationMS int    `json:"duration_ms"`
}

// Driver applies and removes store deployments.
type Driver interface {
	// Apply installs or upgrades rel and waits until it is ready. A non-nil
	// error means the store is not ready; the Result still carries any output.
	Apply(ctx context.Context, rel Release) (Result, error)

	// Teardown removes the deployment and namespace of storeID. Resources
	// that are already gone count as removed.
	Teardown(ctx context.Context, storeID string, timeout time.Duration) (Result, error)
}

// CommandError reports a deployment command that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}
