package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

// Scan is one structural image found for a subject.
type Scan struct {
	Subject string
	Session string
	Path    string
}

// Key returns the routing key for the scan.
func (s Scan) Key() Key {
	return Key{Subject: s.Subject, Session: s.Session, ScanBase: volume.BaseName(s.Path)}
}

var scanSuffixes = []string{"T1w.nii.gz", "T1w.nii"}

const (
	sessionPrefix = "ses"
	subjectPrefix = "sub-"
	derivatives   = "derivatives"
)

// FindScans returns every T1w scan for subject, sorted by path. Scans are
// looked up under <parent>/<subject>[/<session>]/anat and then under
// <parent>/<session>/<subject>/anat.
func FindScans(parent, subject, session string) ([]Scan, error) {
	subject = strings.TrimSpace(subject)
	session = strings.TrimSpace(session)
	if subject == "" {
		return nil, services.Wrap(services.ErrConfiguration, "layout", "find scans", "subject id is required", nil)
	}
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "layout", "find scans",
			fmt.Sprintf("parent directory %s is not readable", parent), err)
	}
	if session == "" {
		if err := rejectSessionTree(parent); err != nil {
			return nil, err
		}
		if err := rejectSessionTree(filepath.Join(parent, subject)); err != nil {
			return nil, err
		}
	}

	var candidates []string
	if session != "" {
		candidates = []string{
			filepath.Join(parent, subject, session, AnatDir),
			filepath.Join(parent, session, subject, AnatDir),
		}
	} else {
		candidates = []string{filepath.Join(parent, subject, AnatDir)}
	}

	for _, dir := range candidates {
		paths, err := scansIn(dir)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			continue
		}
		scans := make([]Scan, 0, len(paths))
		for _, path := range paths {
			scans = append(scans, Scan{Subject: subject, Session: session, Path: path})
		}
		return scans, nil
	}
	return nil, services.Wrap(services.ErrNoInput, "layout", "find scans",
		fmt.Sprintf("no *T1w.nii.gz scan for %s in %s", subject, strings.Join(candidates, ", ")), nil)
}

// rejectSessionTree fails when dir is sorted into session folders, since a
// session id is then needed to pick the scan.
func rejectSessionTree(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), sessionPrefix) {
			return services.Wrap(services.ErrConfiguration, "layout", "find scans",
				fmt.Sprintf("%s is sorted into sessions; pass --session", dir), nil)
		}
	}
	return nil
}

func scansIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "layout", "find scans", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, suffix := range scanSuffixes {
			if strings.HasSuffix(entry.Name(), suffix) {
				paths = append(paths, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Subjects lists sub-* directories under parent (or parent/session when the
// dataset is sorted by session first), sorted.
func Subjects(parent, session string) ([]string, error) {
	roots := []string{parent}
	if session != "" {
		roots = append(roots, filepath.Join(parent, session))
	}
	seen := map[string]struct{}{}
	var subjects []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && root != parent {
				continue
			}
			return nil, services.Wrap(services.ErrConfiguration, "layout", "list subjects", root, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || !strings.HasPrefix(name, subjectPrefix) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			subjects = append(subjects, name)
		}
	}
	if len(subjects) == 0 {
		return nil, services.Wrap(services.ErrNoInput, "layout", "list subjects",
			fmt.Sprintf("no %s* directories under %s", subjectPrefix, parent), nil)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// ResolveOutputRoot returns the directory the router's pipeline folder is
// created in:
//
//	<out> named derivatives      -> <out>/out
//	<out> equal to <parent>      -> <parent>/derivatives/out
//	anything else                -> <out>
func ResolveOutputRoot(out, parent string) string {
	cleanOut := filepath.Clean(out)
	switch {
	case filepath.Base(cleanOut) == derivatives:
		return filepath.Join(cleanOut, "out")
	case parent != "" && cleanOut == filepath.Clean(parent):
		return filepath.Join(cleanOut, derivatives, "out")
	default:
		return cleanOut
	}
}

// SubjectLevel reports whether out looks like a single subject's folder
// rather than a dataset-level output directory.
func SubjectLevel(out, subject string) bool {
	return subject != "" && filepath.Base(filepath.Clean(out)) == subject
}
