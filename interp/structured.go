package interp

import "fmt"

// ValueType classifies the typed payload carried by a StructuredValue.
type ValueType string

const (
	TypeText    ValueType = "text"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeNull    ValueType = "null"
	TypeBinary  ValueType = "binary"
)

// StructuredValue is the common carrier passed between every evaluator,
// exec invocation, and pipeline stage: a canonical string form for shell/
// display use, a structured form for field access, and a security
// descriptor that travels with the value across every hop.
type StructuredValue struct {
	Text       string
	Typed      any
	Type       ValueType
	Descriptor *SecurityDescriptor
}

// Wrap converts an arbitrary Go value into a StructuredValue. Wrapping an
// already-wrapped value returns it unchanged (idempotent), satisfying
// spec invariant: "wrapping a primitive into a StructuredValue and
// unwrapping back yields the primitive; wrapping is idempotent."
func Wrap(v any) *StructuredValue {
	if sv, ok := v.(*StructuredValue); ok {
		return sv
	}
	if sv, ok := v.(StructuredValue); ok {
		return &sv
	}

	switch val := v.(type) {
	case nil:
		return &StructuredValue{Text: "", Typed: nil, Type: TypeNull}
	case string:
		return &StructuredValue{Text: val, Typed: val, Type: TypeText}
	case bool:
		return &StructuredValue{Text: fmt.Sprintf("%t", val), Typed: val, Type: TypeBoolean}
	case int:
		return &StructuredValue{Text: fmt.Sprintf("%d", val), Typed: val, Type: TypeNumber}
	case int64:
		return &StructuredValue{Text: fmt.Sprintf("%d", val), Typed: val, Type: TypeNumber}
	case float64:
		return &StructuredValue{Text: fmt.Sprintf("%v", val), Typed: val, Type: TypeNumber}
	case []byte:
		return &StructuredValue{Text: string(val), Typed: val, Type: TypeBinary}
	case map[string]any:
		return &StructuredValue{Text: fmt.Sprintf("%v", val), Typed: val, Type: TypeObject}
	case []any:
		return &StructuredValue{Text: fmt.Sprintf("%v", val), Typed: val, Type: TypeArray}
	default:
		return &StructuredValue{Text: fmt.Sprintf("%v", val), Typed: val, Type: TypeText}
	}
}

// Unwrap returns the typed Go value carried by the StructuredValue, the
// inverse of Wrap for primitives.
func (sv *StructuredValue) Unwrap() any {
	if sv == nil {
		return nil
	}
	return sv.Typed
}

// WithDescriptor returns a shallow copy of sv carrying the given descriptor.
func (sv *StructuredValue) WithDescriptor(d *SecurityDescriptor) *StructuredValue {
	if sv == nil {
		return &StructuredValue{Descriptor: d}
	}
	cp := *sv
	cp.Descriptor = d
	return &cp
}

// Clone deep-copies a StructuredValue for parallel branch isolation (§5:
// "Parallel branches receive deep-cloned StructuredValue inputs").
func (sv *StructuredValue) Clone() *StructuredValue {
	if sv == nil {
		return nil
	}
	cp := *sv
	cp.Typed = cloneAny(sv.Typed)
	if sv.Descriptor != nil {
		d := sv.Descriptor.Clone()
		cp.Descriptor = &d
	}
	return &cp
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, vv := range val {
			cp[k] = cloneAny(vv)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, vv := range val {
			cp[i] = cloneAny(vv)
		}
		return cp
	default:
		return v
	}
}

// ArrayStructuredValue builds the array-shaped StructuredValue returned by
// a parallel pipeline stage: typed is the ordered branch results, the
// descriptor is the union of every branch's descriptor (§4.8).
func ArrayStructuredValue(branches []*StructuredValue) *StructuredValue {
	typed := make([]any, len(branches))
	desc := EmptyDescriptor()
	for i, b := range branches {
		if b == nil {
			continue
		}
		typed[i] = b.Unwrap()
		if b.Descriptor != nil {
			desc = desc.Merge(*b.Descriptor)
		}
	}
	return &StructuredValue{
		Text:       fmt.Sprintf("%v", typed),
		Typed:      typed,
		Type:       TypeArray,
		Descriptor: &desc,
	}
}
