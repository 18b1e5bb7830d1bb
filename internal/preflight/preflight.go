package preflight

import (
	"context"
	"fmt"
	"strings"

	"radt1cal/internal/config"
	"radt1cal/internal/deps"
	"radt1cal/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check needed before a subject run writing under
// outputRoot.
func RunAll(ctx context.Context, cfg *config.Config, outputRoot string) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	results = append(results, CheckCreatable("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckCreatable("Output directory", outputRoot))
	results = append(results, CheckReferenceImage("Template", cfg.Paths.Template))
	results = append(results, CheckReferenceImage("Atlas", cfg.Paths.Atlas))

	for _, status := range CheckSystemDeps(ctx, cfg) {
		if status.Optional && !status.Available {
			continue
		}
		detail := status.Path
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}
	return results
}

// Err joins failed results into a configuration error, or returns nil.
func Err(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check", strings.Join(failed, "; "), nil)
}

// Available reports whether every non-optional dependency resolved.
func Available(statuses []deps.Status) bool {
	return len(deps.MissingRequired(statuses)) == 0
}
