package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrStageExecution = errors.New("stage execution error")
	ErrExtraction     = errors.New("extraction error")
	ErrNoInput        = errors.New("no input found")
	ErrExternalTool   = errors.New("external tool error")
	ErrValidation     = errors.New("validation error")
	ErrTimeout        = errors.New("timeout")
)

// ErrorDetails is the user-facing breakdown of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrStageExecution
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Details classifies err against the sentinel markers and returns a message
// without the marker prefix.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range markers {
		if errors.Is(err, marker) {
			prefix := marker.Error() + ": "
			return ErrorDetails{Kind: marker.Error(), Message: strings.TrimPrefix(msg, prefix)}
		}
	}
	return ErrorDetails{Kind: "error", Message: msg}
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfiguration):
		return 2
	case errors.Is(err, ErrNoInput):
		return 3
	default:
		return 1
	}
}

var markers = []error{
	ErrConfiguration,
	ErrNoInput,
	ErrTimeout,
	ErrExtraction,
	ErrValidation,
	ErrExternalTool,
	ErrStageExecution,
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
