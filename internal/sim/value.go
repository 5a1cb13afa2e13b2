package sim

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueKind discriminates the forms a simulation file entry can take.
type ValueKind int

const (
	// KindLiteral is a plain scalar, usually a hex byte string.
	KindLiteral ValueKind = iota
	// KindCall references a registered function by name; the function
	// receives the raw request and produces the response string.
	KindCall
	// KindTable is a nested mapping (session sub-tables, cyclic PGN
	// entries with payload and cycleTime, ...).
	KindTable
)

// callTag marks callable entries in simulation files: `!call name`.
const callTag = "!call"

// Value is one entry of a simulation file: a literal scalar, a callable
// reference, or a nested table.
type Value struct {
	kind  ValueKind
	str   string
	table map[string]*Value
	order []string
}

// Kind returns the value's form.
func (v *Value) Kind() ValueKind { return v.kind }

// String returns the scalar text of a literal, or the function name of
// a callable.
func (v *Value) String() string { return v.str }

// Uint parses a literal as an unsigned number (decimal or 0x-prefixed
// hex), returning ok=false for non-numeric or non-literal values.
func (v *Value) Uint() (uint64, bool) {
	if v == nil || v.kind != KindLiteral {
		return 0, false
	}
	s := strings.TrimSpace(v.str)
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Lookup descends the table along path. Returns ok=false when any hop
// is missing or not a table.
func (v *Value) Lookup(path ...string) (*Value, bool) {
	cur := v
	for _, p := range path {
		if cur == nil || cur.kind != KindTable {
			return nil, false
		}
		next, ok := cur.table[p]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns the table's keys in file order, or nil for non-tables.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindTable {
		return nil
	}
	return append([]string(nil), v.order...)
}

// UnmarshalYAML decodes a simulation file node. Scalars become
// literals, `!call name` becomes a callable reference, mappings become
// tables. Sequences have no meaning in simulation files.
func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	switch {
	case n.Tag == callTag:
		v.kind = KindCall
		v.str = strings.TrimSpace(n.Value)
		if v.str == "" {
			return fmt.Errorf("line %d: !call requires a function name", n.Line)
		}
		return nil
	case n.Kind == yaml.ScalarNode:
		v.kind = KindLiteral
		v.str = n.Value
		return nil
	case n.Kind == yaml.MappingNode:
		v.kind = KindTable
		v.table = make(map[string]*Value, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			val := new(Value)
			if err := val.UnmarshalYAML(n.Content[i+1]); err != nil {
				return err
			}
			v.table[key] = val
			v.order = append(v.order, key)
		}
		return nil
	default:
		return fmt.Errorf("line %d: unsupported node in simulation file", n.Line)
	}
}

// Literal builds a literal value, for tests and programmatic tables.
func Literal(s string) *Value { return &Value{kind: KindLiteral, str: s} }

// Call builds a callable reference, for tests and programmatic tables.
func Call(name string) *Value { return &Value{kind: KindCall, str: name} }
