package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Suite groups binaries that ship together and share an install location.
type Suite string

const (
	SuiteFSL       Suite = "FSL"
	SuiteANTs      Suite = "ANTs"
	SuiteRadiomics Suite = "PyRadiomics"
)

// suiteHomes maps a suite to the environment variable naming its install
// directory and the subdirectory holding executables.
var suiteHomes = map[Suite][2]string{
	SuiteFSL:  {"FSLDIR", "bin"},
	SuiteANTs: {"ANTSPATH", ""},
}

// Requirement defines an external dependency radt1cal relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Suite       Suite
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Suite       Suite
	Optional    bool
	Available   bool
	// Path is the resolved executable when Available.
	Path   string
	Detail string
}

// CheckBinaries evaluates the provided requirements and reports availability.
// Commands missing from PATH are also looked up under the suite's home
// directory (FSLDIR/bin, ANTSPATH).
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Suite:       req.Suite,
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := resolve(cmd, req.Suite)
		if err != nil {
			status.Detail = err.Error()
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Resolve returns the executable path for cmd, falling back to cmd itself
// when it cannot be found so the caller reports the failure when it runs.
func Resolve(cmd string, suite Suite) string {
	if path, err := resolve(strings.TrimSpace(cmd), suite); err == nil {
		return path
	}
	return cmd
}

func resolve(cmd string, suite Suite) (string, error) {
	if path, err := exec.LookPath(cmd); err == nil {
		return path, nil
	}
	home, ok := suiteHomes[suite]
	if ok && !strings.ContainsRune(cmd, os.PathSeparator) {
		if root := strings.TrimSpace(os.Getenv(home[0])); root != "" {
			candidate := filepath.Join(root, home[1], cmd)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
				return candidate, nil
			}
			return "", fmt.Errorf("binary %q not found on PATH or in $%s", cmd, home[0])
		}
	}
	return "", fmt.Errorf("binary %q not found", cmd)
}

// MissingRequired returns the unavailable, non-optional statuses.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
