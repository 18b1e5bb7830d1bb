package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"radt1cal/internal/fileutil"
	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

// AnatDir is the BIDS modality folder for structural scans.
const AnatDir = "anat"

// Key identifies the owner of a set of artifacts.
type Key struct {
	Subject  string
	Session  string
	ScanBase string
}

// Router maps named outputs onto deterministic paths.
type Router struct {
	Root     string
	Pipeline string
}

// NewRouter returns a router publishing under root/pipeline.
func NewRouter(root, pipeline string) *Router {
	return &Router{Root: root, Pipeline: pipeline}
}

// Dir is <root>/<pipeline>/<subject>[/<session>]/anat.
func (r *Router) Dir(key Key) string {
	parts := []string{r.Root, r.Pipeline, key.Subject}
	if key.Session != "" {
		parts = append(parts, key.Session)
	}
	return filepath.Join(append(parts, AnatDir)...)
}

// Path returns the routed location of output, taking the extension from src.
func (r *Router) Path(key Key, output, src string) string {
	return filepath.Join(r.Dir(key), key.ScanBase+"_"+output+artifactExt(src))
}

func artifactExt(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz") {
		return volume.Extension(path)
	}
	return filepath.Ext(path)
}

// Publish copies each named artifact to its routed path and returns the
// destinations. Names are processed in sorted order.
func (r *Router) Publish(key Key, artifacts map[string]string) (map[string]string, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	published := make(map[string]string, len(artifacts))
	for _, name := range names {
		src := artifacts[name]
		dst := r.Path(key, name, src)
		if err := fileutil.Publish(src, dst); err != nil {
			return published, services.Wrap(services.ErrStageExecution, "layout", "publish", name, err)
		}
		published[name] = dst
	}
	return published, nil
}

func (k Key) validate() error {
	for label, value := range map[string]string{"subject": k.Subject, "scan": k.ScanBase} {
		if strings.TrimSpace(value) == "" {
			return services.Wrap(services.ErrConfiguration, "layout", "route", label+" is required", nil)
		}
	}
	for _, value := range []string{k.Subject, k.Session, k.ScanBase} {
		if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
			return services.Wrap(services.ErrConfiguration, "layout", "route", fmt.Sprintf("invalid path component %q", value), nil)
		}
	}
	return nil
}

// Lock is an exclusive hold on a subject's output directory.
type Lock struct {
	lock *flock.Flock
	Path string
}

// AcquireLock takes the subject's output lock without blocking.
func (r *Router) AcquireLock(key Key) (*Lock, error) {
	dir := filepath.Join(r.Root, r.Pipeline, key.Subject)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "layout", "lock", "create output directory", err)
	}
	name := ".radt1cal.lock"
	if key.Session != "" {
		name = ".radt1cal-" + key.Session + ".lock"
	}
	path := filepath.Join(dir, name)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "layout", "lock", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "layout", "lock",
			fmt.Sprintf("%s is being processed by another run", key.Subject), nil)
	}
	return &Lock{lock: lock, Path: path}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
