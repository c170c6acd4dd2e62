package simulation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid simulation config")

	// ErrInvariant is matched by every *InvariantError.
	ErrInvariant = errors.New("population invariant violated")
)

// ConfigError reports a configuration value rejected at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid simulation config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid simulation config: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// InvariantError reports a caller error against the population bookkeeping,
// such as retiring an agent that is not registered. It is not recoverable.
type InvariantError struct {
	Op     string
	ID     ID
	Detail string
}

func (e *InvariantError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s agent %d: %s", e.Op, e.ID, e.Detail)
}

// Is makes errors.Is(err, ErrInvariant) hold.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}
