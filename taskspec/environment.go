package taskspec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrNilDocument is returned when extraction is attempted without a document.
var ErrNilDocument = errors.New("task spec document is nil")

// MalformedEntryError reports an environment or secret entry that lacks a
// required field.
type MalformedEntryError struct {
	// Container is the name of the container definition, or its index when unnamed.
	Container string
	// Index is the entry's position within the container's list.
	Index int
	// Field is the missing field.
	Field string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("container %s: entry %d is missing %q", e.Container, e.Index, e.Field)
}

// Environment maps variable names to values.
type Environment map[string]string

// ExtractEnvironment flattens the environment of every container definition,
// in document order. A name declared more than once keeps the value of its
// last occurrence.
func ExtractEnvironment(doc *Document) (Environment, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}

	env := make(Environment)
	for i, def := range doc.ContainerDefinitions {
		for j, entry := range def.Environment {
			if entry.Name == nil {
				return nil, &MalformedEntryError{Container: containerLabel(def, i), Index: j, Field: "name"}
			}
			if entry.Value == nil {
				return nil, &MalformedEntryError{Container: containerLabel(def, i), Index: j, Field: "value"}
			}
			env[*entry.Name] = *entry.Value
		}
	}
	return env, nil
}

// ExtractSecrets flattens the secrets of every container definition into a
// name to valueFrom table, with the same ordering rules as ExtractEnvironment.
func ExtractSecrets(doc *Document) (map[string]string, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}

	secrets := make(map[string]string)
	for i, def := range doc.ContainerDefinitions {
		for j, entry := range def.Secrets {
			if entry.Name == nil {
				return nil, &MalformedEntryError{Container: containerLabel(def, i), Index: j, Field: "name"}
			}
			if entry.ValueFrom == nil {
				return nil, &MalformedEntryError{Container: containerLabel(def, i), Index: j, Field: "valueFrom"}
			}
			secrets[*entry.Name] = *entry.ValueFrom
		}
	}
	return secrets, nil
}

func containerLabel(def ContainerDefinition, index int) string {
	if def.Name != "" {
		return def.Name
	}
	return fmt.Sprintf("#%d", index)
}

// Keys returns the variable names in sorted order.
func (e Environment) Keys() []string {
	return slices.Sorted(maps.Keys(e))
}

// Clone returns a copy of the table. A nil table clones to an empty one.
func (e Environment) Clone() Environment {
	out := make(Environment, len(e))
	maps.Copy(out, e)
	return out
}

// Merge returns a new table holding e overlaid with other.
func (e Environment) Merge(other map[string]string) Environment {
	out := e.Clone()
	maps.Copy(out, other)
	return out
}

// Split partitions the table by isSensitive. Neither result aliases e.
func (e Environment) Split(isSensitive func(name string) bool) (plain, sensitive Environment) {
	plain = make(Environment)
	sensitive = make(Environment)
	for k, v := range e {
		if isSensitive(k) {
			sensitive[k] = v
		} else {
			plain[k] = v
		}
	}
	return plain, sensitive
}

var sensitiveMarkers = []string{"SECRET", "TOKEN", "PASSWORD", "API_KEY", "PRIVATE_KEY"}

// IsSensitiveName reports whether a variable name looks like it holds a credential.
func IsSensitiveName(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
