package request

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMissingModelSettings = errors.New("missing model settings")
	ErrEmptyPrompt          = errors.New("prompt is empty")
)

// ConfigurationError reports that the session configuration cannot produce a
// request. It is raised before any network call.
type ConfigurationError struct {
	Field string
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
