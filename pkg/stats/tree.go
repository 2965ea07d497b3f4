// Package stats implements the statistics tree shared between sync
// clients and the delta diff/merge algorithm used to propagate counter
// changes between them.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node is a single vertex of a statistics tree. A node is exactly one
// of three kinds: a Counter, a Sequence of counters, or a Mapping from
// string keys to child nodes. The kind is resolved once when a tree is
// decoded from JSON, never re-derived during traversal.
type Node interface {
	isNode()
	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() Node
}

// Counter is a cumulative integer statistic.
type Counter int64

// Sequence is an ordered, positionally indexed list of counters.
type Sequence []int64

// Mapping is a keyed collection of child nodes. The top level of every
// statistics tree is a Mapping.
type Mapping map[string]Node

func (Counter) isNode()  {}
func (Sequence) isNode() {}
func (Mapping) isNode()  {}

// Clone returns the counter itself; counters are value types.
func (c Counter) Clone() Node { return c }

// Clone copies the underlying slice.
func (s Sequence) Clone() Node {
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// Clone deep-copies the mapping and every node beneath it.
func (m Mapping) Clone() Node {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// CloneMapping is a convenience wrapper that keeps the concrete type.
func CloneMapping(m Mapping) Mapping {
	if m == nil {
		return nil
	}
	return m.Clone().(Mapping)
}

// UnmarshalJSON resolves each raw value to its node kind: JSON numbers
// become Counters, arrays become Sequences, objects become nested
// Mappings. Any other value is rejected.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Mapping, len(raw))
	for key, value := range raw {
		node, err := decodeNode(value)
		if err != nil {
			return fmt.Errorf("statistics key %q: %w", key, err)
		}
		out[key] = node
	}
	*m = out
	return nil
}

// MarshalJSON emits the mapping as a plain JSON object. Counter and
// Sequence marshal natively as number and array.
func (m Mapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Node(m))
}

func decodeNode(data []byte) (Node, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case '{':
		var child Mapping
		if err := json.Unmarshal(data, &child); err != nil {
			return nil, err
		}
		return child, nil
	case '[':
		var seq Sequence
		if err := json.Unmarshal(data, &seq); err != nil {
			return nil, err
		}
		return seq, nil
	default:
		var c Counter
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("unsupported node value %s", trimmed)
		}
		return c, nil
	}
}
