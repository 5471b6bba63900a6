// Package taskspec reads ECS task specification documents and flattens the
// environment they declare into a lookup table for the delegate container.
package taskspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Document is an ECS task specification as distributed by the delegate vendor.
// Only the fields the deployment consumes are decoded; everything else is ignored.
type Document struct {
	Family                  string                `json:"family,omitempty"`
	CPU                     Quantity              `json:"cpu,omitempty"`
	Memory                  Quantity              `json:"memory,omitempty"`
	NetworkMode             string                `json:"networkMode,omitempty"`
	RequiresCompatibilities []string              `json:"requiresCompatibilities,omitempty"`
	ContainerDefinitions    []ContainerDefinition `json:"containerDefinitions"`
}

// ContainerDefinition is one entry of a document's containerDefinitions list.
type ContainerDefinition struct {
	Name        string             `json:"name"`
	Image       string             `json:"image,omitempty"`
	CPU         Quantity           `json:"cpu,omitempty"`
	Memory      Quantity           `json:"memory,omitempty"`
	Essential   *bool              `json:"essential,omitempty"`
	Environment []EnvironmentEntry `json:"environment"`
	Secrets     []SecretEntry      `json:"secrets,omitempty"`
}

// EnvironmentEntry is a single name/value pair. Fields are pointers so that a
// missing field can be told apart from an empty string.
type EnvironmentEntry struct {
	Name  *string `json:"name"`
	Value *string `json:"value"`
}

// SecretEntry references a secret the container runtime resolves at launch.
type SecretEntry struct {
	Name      *string `json:"name"`
	ValueFrom *string `json:"valueFrom"`
}

// PrimaryContainer returns the first container definition, or nil when the
// document declares none.
func (d *Document) PrimaryContainer() *ContainerDefinition {
	if d == nil || len(d.ContainerDefinitions) == 0 {
		return nil
	}
	return &d.ContainerDefinitions[0]
}

// Quantity is a CPU unit or MiB count. ECS documents write these either as
// numbers or as strings ("1024", "1 vCPU", "0.5 vcpu", "6GB"); all decode to
// units/MiB. A size that does not parse decodes to 0 so the stack defaults
// apply; sizes never block environment extraction.
type Quantity int

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	v, err := ParseQuantity(s)
	if err != nil {
		v = 0
	}
	*q = v
	return nil
}

// ParseQuantity parses the string forms ECS accepts for task sizes. The unit
// may follow the number with or without a space; "vCPU" and "GB" scale by
// 1024. The result must be a whole number of units/MiB.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := s, ""
	if i >= 0 {
		number, unit = s[:i], strings.TrimSpace(s[i:])
	}
	n, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}

	var scale float64
	switch strings.ToLower(unit) {
	case "":
		scale = 1
	case "vcpu", "gb", "gib":
		scale = 1024
	case "mb", "mib":
		scale = 1
	default:
		return 0, fmt.Errorf("invalid quantity unit %q", unit)
	}

	v := n * scale
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("invalid quantity %q: not a whole number", s)
	}
	return Quantity(v), nil
}
