package stats

import "fmt"

// Diff computes the structural difference between two statistics trees.
// The result carries only leaves that changed: a counter key is omitted
// when its delta is zero, a sequence key is omitted when every element
// delta is zero, and a mapping key is omitted when its recursive diff
// is empty. Keys missing from old are treated as zero, so a diff
// against an empty tree reproduces the new tree.
//
// Precondition: next's shape must be a superset-extension of prev's
// (keys are never removed or retyped between snapshots).
// Postcondition: Diff(x, x) is an empty Mapping for any tree x.
func Diff(prev, next Mapping) Mapping {
	out := Mapping{}
	for key, newNode := range next {
		if delta, ok := diffNode(prev[key], newNode); ok {
			out[key] = delta
		}
	}
	return out
}

// diffNode returns the delta for a single node and whether it is
// non-empty. old may be nil when the key is new.
func diffNode(old, new Node) (Node, bool) {
	switch next := new.(type) {
	case Counter:
		prev, _ := old.(Counter)
		if delta := next - prev; delta != 0 {
			return delta, true
		}
		return nil, false
	case Sequence:
		prev, _ := old.(Sequence)
		delta := make(Sequence, len(next))
		changed := false
		for i, v := range next {
			var p int64
			if i < len(prev) {
				p = prev[i]
			}
			delta[i] = v - p
			if delta[i] != 0 {
				changed = true
			}
		}
		if !changed {
			return nil, false
		}
		return delta, true
	case Mapping:
		prev, _ := old.(Mapping)
		child := Mapping{}
		for key, node := range next {
			if delta, ok := diffNode(prev[key], node); ok {
				child[key] = delta
			}
		}
		if len(child) == 0 {
			return nil, false
		}
		return child, true
	default:
		return nil, false
	}
}

// Merge applies a delta onto stored in place. The operation is strictly
// additive and shape-extending: keys absent from the delta are left
// untouched, missing branches (and missing sequence indices) are lazily
// created and zero-filled before adding. Merge never removes a key.
//
// A non-nil error reports a shape conflict, where the delta retypes an
// existing node. The stored tree is left partially merged in that case;
// callers treat the condition as a logged protocol violation, not a
// fault.
func Merge(stored, delta Mapping) error {
	for key, deltaNode := range delta {
		merged, err := mergeNode(stored[key], deltaNode)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		stored[key] = merged
	}
	return nil
}

func mergeNode(stored, delta Node) (Node, error) {
	switch d := delta.(type) {
	case Counter:
		prev, ok := stored.(Counter)
		if stored != nil && !ok {
			return nil, fmt.Errorf("cannot add counter to %T", stored)
		}
		return prev + d, nil
	case Sequence:
		prev, ok := stored.(Sequence)
		if stored != nil && !ok {
			return nil, fmt.Errorf("cannot add sequence to %T", stored)
		}
		if len(prev) < len(d) {
			extended := make(Sequence, len(d))
			copy(extended, prev)
			prev = extended
		}
		for i, v := range d {
			prev[i] += v
		}
		return prev, nil
	case Mapping:
		prev, ok := stored.(Mapping)
		if stored == nil {
			prev = Mapping{}
		} else if !ok {
			return nil, fmt.Errorf("cannot merge mapping into %T", stored)
		}
		if err := Merge(prev, d); err != nil {
			return nil, err
		}
		return prev, nil
	default:
		return nil, fmt.Errorf("unsupported delta node %T", delta)
	}
}
