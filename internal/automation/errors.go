package automation

import (
	"errors"
	"fmt"

	"buildingops/internal/models"
)

var (
	// ErrInvalidSchedule rejects cron expressions that cannot be parsed.
	ErrInvalidSchedule = fmt.Errorf("%w: invalid schedule expression", models.ErrValidation)
	// ErrAutomationDisabled is returned when a disabled automation is executed on demand.
	ErrAutomationDisabled = errors.New("automation is disabled")
	// ErrExecutionInFlight is returned when the automation is already executing.
	ErrExecutionInFlight = errors.New("automation is already executing")
	// ErrEngineStopped is returned for executions requested after shutdown began.
	ErrEngineStopped = errors.New("automation engine is stopped")
	// ErrExecution matches every ExecutionError.
	ErrExecution = errors.New("automation execution failed")
)

// ExecutionError reports an action that could not be carried out. The
// failure has already been written to the automation history.
type ExecutionError struct {
	AutomationID string
	Err          error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute automation %s: %v", e.AutomationID, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}
