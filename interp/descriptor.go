package interp

// SecurityDescriptor carries the semantic labels, provenance taint, and
// diagnostic sources attached to a value as it flows through the
// evaluator, exec invocations, and pipeline stages.
type SecurityDescriptor struct {
	Labels  map[string]struct{}
	Taint   map[string]struct{}
	Sources map[string]struct{}
}

const (
	LabelSecret = "secret"
	LabelPII    = "pii"
	LabelPublic = "public"

	TaintStdin    = "src:stdin"
	TaintNet      = "src:net"
	TaintKeychain = "src:keychain"
)

// EmptyDescriptor returns a zero-value SecurityDescriptor, the identity
// element for Merge.
func EmptyDescriptor() SecurityDescriptor {
	return SecurityDescriptor{
		Labels:  map[string]struct{}{},
		Taint:   map[string]struct{}{},
		Sources: map[string]struct{}{},
	}
}

// NewDescriptor builds a descriptor from label/taint/source slices.
func NewDescriptor(labels, taint, sources []string) SecurityDescriptor {
	d := EmptyDescriptor()
	for _, l := range labels {
		d.Labels[l] = struct{}{}
	}
	for _, t := range taint {
		d.Taint[t] = struct{}{}
	}
	for _, s := range sources {
		d.Sources[s] = struct{}{}
	}
	return d
}

// Merge unions labels, taint, and sources. Merge is commutative,
// associative, and idempotent (spec §3.3, §8 invariant 4).
func (d SecurityDescriptor) Merge(other SecurityDescriptor) SecurityDescriptor {
	out := EmptyDescriptor()
	for k := range d.Labels {
		out.Labels[k] = struct{}{}
	}
	for k := range other.Labels {
		out.Labels[k] = struct{}{}
	}
	for k := range d.Taint {
		out.Taint[k] = struct{}{}
	}
	for k := range other.Taint {
		out.Taint[k] = struct{}{}
	}
	for k := range d.Sources {
		out.Sources[k] = struct{}{}
	}
	for k := range other.Sources {
		out.Sources[k] = struct{}{}
	}
	return out
}

// MergeAll folds Merge over a slice of descriptors, starting from the
// empty identity element.
func MergeAll(ds ...SecurityDescriptor) SecurityDescriptor {
	out := EmptyDescriptor()
	for _, d := range ds {
		out = out.Merge(d)
	}
	return out
}

// HasLabel reports whether the descriptor carries the given label.
func (d SecurityDescriptor) HasLabel(label string) bool {
	_, ok := d.Labels[label]
	return ok
}

// HasTaint reports whether the descriptor carries the given taint marker.
func (d SecurityDescriptor) HasTaint(taint string) bool {
	_, ok := d.Taint[taint]
	return ok
}

// WithLabel returns a copy of d with label added.
func (d SecurityDescriptor) WithLabel(label string) SecurityDescriptor {
	return d.Merge(NewDescriptor([]string{label}, nil, nil))
}

// WithTaint returns a copy of d with taint added.
func (d SecurityDescriptor) WithTaint(taint string) SecurityDescriptor {
	return d.Merge(NewDescriptor(nil, []string{taint}, nil))
}

// Clone deep-copies the descriptor's sets.
func (d SecurityDescriptor) Clone() SecurityDescriptor {
	return d.Merge(EmptyDescriptor())
}

// LabelSlice returns the labels as a slice in no particular order (map
// iteration order), for use as policy evaluation input.
func (d SecurityDescriptor) LabelSlice() []string {
	out := make([]string, 0, len(d.Labels))
	for k := range d.Labels {
		out = append(out, k)
	}
	return out
}

// TaintSlice returns the taint markers as a slice.
func (d SecurityDescriptor) TaintSlice() []string {
	out := make([]string, 0, len(d.Taint))
	for k := range d.Taint {
		out = append(out, k)
	}
	return out
}
