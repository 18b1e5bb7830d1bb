package stage

import (
	"fmt"
	"os"

	"radt1cal/internal/services"
)

// RequireVolume returns the path bound to a volume input, verifying it exists.
func RequireVolume(call Call, name string) (string, error) {
	value, ok := call.Inputs[name]
	if !ok || value.Kind != KindVolume || value.Path() == "" {
		return "", services.Wrap(services.ErrValidation, call.Stage, "resolve input",
			fmt.Sprintf("volume input %q is not bound", name), nil)
	}
	if _, err := os.Stat(value.Path()); err != nil {
		return "", services.Wrap(services.ErrValidation, call.Stage, "resolve input",
			fmt.Sprintf("volume input %q unreadable", name), err)
	}
	return value.Path(), nil
}

// RequireTransforms returns the ordered transform list bound to name.
func RequireTransforms(call Call, name string) ([]string, error) {
	value, ok := call.Inputs[name]
	if !ok || value.Kind != KindTransforms || len(value.Paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, call.Stage, "resolve input",
			fmt.Sprintf("transform input %q is not bound", name), nil)
	}
	for _, path := range value.Paths {
		if _, err := os.Stat(path); err != nil {
			return nil, services.Wrap(services.ErrValidation, call.Stage, "resolve input",
				fmt.Sprintf("transform %s unreadable", path), err)
		}
	}
	return append([]string(nil), value.Paths...), nil
}

// LiteralInput returns a literal input, or fallback when unbound.
func LiteralInput(call Call, name, fallback string) string {
	if value, ok := call.Inputs[name]; ok && value.Kind == KindLiteral {
		return value.Literal
	}
	return fallback
}
