package scenario

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks scalar inputs rejected before any node exists.
	ErrInvalidConfig = errors.New("invalid experiment configuration")
	// ErrProvisioning marks a build step the engine or an allocator refused.
	ErrProvisioning = errors.New("scenario provisioning failed")
	// ErrEngineRuntime marks a failure surfaced by the engine run.
	ErrEngineRuntime = errors.New("engine run failed")
)

// ConfigurationError reports invalid experiment parameters. It is raised
// before any node is created.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrInvalidConfig, e.Err} }

// ProvisioningError reports the build step that failed. The partially built
// network must not be used.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() []error { return []error{ErrProvisioning, e.Err} }

// EngineRuntimeError wraps a failure returned by the engine while running.
type EngineRuntimeError struct {
	Err error
}

func (e *EngineRuntimeError) Error() string {
	return fmt.Sprintf("engine run: %v", e.Err)
}

func (e *EngineRuntimeError) Unwrap() []error { return []error{ErrEngineRuntime, e.Err} }

func provisioningError(step string, err error) error {
	return &ProvisioningError{Step: step, Err: err}
}

// ErrorClass names the taxonomy class of err: "configuration",
// "provisioning", "engine_runtime" or "other".
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return "configuration"
	case errors.Is(err, ErrProvisioning):
		return "provisioning"
	case errors.Is(err, ErrEngineRuntime):
		return "engine_runtime"
	default:
		return "other"
	}
}
