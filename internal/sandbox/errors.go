package sandbox

import (
	"errors"
	"fmt"
)

// Error kinds reported by the engine client and the command filter.
// Callers match them with errors.Is.
var (
	// ErrValidation marks malformed or oversized input. Nothing was executed.
	ErrValidation = errors.New("invalid command")

	// ErrPolicyViolation marks a command rejected by the deny-list.
	ErrPolicyViolation = errors.New("command not allowed")

	// ErrProvision marks a failed container create or start.
	ErrProvision = errors.New("sandbox provisioning failed")

	// ErrExec marks a failed exec: the sandbox is missing, stopped, or the
	// stream broke.
	ErrExec = errors.New("command execution failed")

	// ErrTeardown marks a failed stop or remove. It is logged, never surfaced
	// to the owner.
	ErrTeardown = errors.New("sandbox teardown failed")
)

// Validation failures of the command filter. Both match ErrValidation.
var (
	ErrEmptyCommand   = fmt.Errorf("%w: empty command", ErrValidation)
	ErrCommandTooLong = fmt.Errorf("%w: command too long", ErrValidation)
)

// BlockedCommandError is returned when a command matches a deny-list pattern.
type BlockedCommandError struct {
	Command string
	Reason  string
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked: %s", e.Reason)
}

// Is reports BlockedCommandError as a policy violation.
func (e *BlockedCommandError) Is(target error) bool {
	return target == ErrPolicyViolation
}
