package stage

import "fmt"

// Kind classifies the artifacts that flow along graph edges.
type Kind int

const (
	KindVolume Kind = iota + 1
	// KindTransforms is an ordered list of transform files, applied last to first.
	KindTransforms
	KindTable
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindTransforms:
		return "transforms"
	case KindTable:
		return "table"
	case KindLiteral:
		return "literal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a concrete artifact or literal bound to a port.
type Value struct {
	Kind    Kind
	Paths   []string
	Literal string
}

// Volume wraps a single image path.
func Volume(path string) Value {
	return Value{Kind: KindVolume, Paths: []string{path}}
}

// Transforms wraps an ordered transform list.
func Transforms(paths ...string) Value {
	return Value{Kind: KindTransforms, Paths: append([]string(nil), paths...)}
}

// Table wraps one or more table files.
func Table(paths ...string) Value {
	return Value{Kind: KindTable, Paths: append([]string(nil), paths...)}
}

// Literal wraps a plain parameter value.
func Literal(value string) Value {
	return Value{Kind: KindLiteral, Literal: value}
}

// Path returns the first path, or "" when the value carries none.
func (v Value) Path() string {
	if len(v.Paths) == 0 {
		return ""
	}
	return v.Paths[0]
}

// Port declares a named, typed input or output.
type Port struct {
	Name string
	Kind Kind
}
