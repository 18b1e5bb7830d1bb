package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"radt1cal/internal/stage"
)

const (
	manifestName = ".complete.json"
	hashLength   = 12
)

// StageHash fingerprints a stage invocation: name, tool identity, sorted
// parameters and resolved inputs. File inputs contribute their path, size
// and modification time so an edited input invalidates downstream results.
func StageHash(name, identity string, params map[string]string, inputs map[string]stage.Value) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, part := range parts {
			_, _ = io.WriteString(h, part)
			_, _ = h.Write([]byte{0})
		}
	}
	write("stage", name, "tool", identity)

	for _, key := range sortedKeys(params) {
		write("param", key, params[key])
	}
	inputNames := make([]string, 0, len(inputs))
	for key := range inputs {
		inputNames = append(inputNames, key)
	}
	sort.Strings(inputNames)
	for _, key := range inputNames {
		value := inputs[key]
		write("input", key, value.Kind.String(), value.Literal)
		for _, path := range value.Paths {
			write(fileFingerprint(path))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLength]
}

func fileFingerprint(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info, err := os.Stat(abs)
	if err != nil {
		return abs + "|missing"
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type manifest struct {
	Stage     string                   `json:"stage"`
	Tool      string                   `json:"tool"`
	Completed time.Time                `json:"completed"`
	Outputs   map[string]manifestValue `json:"outputs"`
}

type manifestValue struct {
	Kind    string   `json:"kind"`
	Paths   []string `json:"paths,omitempty"`
	Literal string   `json:"literal,omitempty"`
}

func kindFromString(name string) (stage.Kind, bool) {
	for _, k := range []stage.Kind{stage.KindVolume, stage.KindTransforms, stage.KindTable, stage.KindLiteral} {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

func writeManifest(dir, name, tool string, outputs stage.Outputs) error {
	m := manifest{
		Stage:     name,
		Tool:      tool,
		Completed: time.Now().UTC(),
		Outputs:   make(map[string]manifestValue, len(outputs)),
	}
	for key, value := range outputs {
		m.Outputs[key] = manifestValue{Kind: value.Kind.String(), Paths: value.Paths, Literal: value.Literal}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, manifestName))
}

var errNoManifest = errors.New("no completion manifest")

// readManifest returns reusable outputs when the directory holds a manifest
// whose declared outputs still exist on disk.
func readManifest(dir string, declared []stage.Port) (stage.Outputs, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoManifest
		}
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	outputs := make(stage.Outputs, len(m.Outputs))
	for _, port := range declared {
		entry, ok := m.Outputs[port.Name]
		if !ok {
			return nil, fmt.Errorf("manifest missing output %q", port.Name)
		}
		kind, ok := kindFromString(entry.Kind)
		if !ok || kind != port.Kind {
			return nil, fmt.Errorf("manifest output %q has kind %q", port.Name, entry.Kind)
		}
		for _, path := range entry.Paths {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("output %q: %w", port.Name, err)
			}
		}
		outputs[port.Name] = stage.Value{Kind: kind, Paths: entry.Paths, Literal: entry.Literal}
	}
	return outputs, nil
}
