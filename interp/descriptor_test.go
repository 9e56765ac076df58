package interp

import "testing"

func TestDescriptor_MergeIsUnion(t *testing.T) {
	secret := NewDescriptor([]string{LabelSecret}, []string{TaintKeychain}, []string{"keychain:api-key"})
	pii := NewDescriptor([]string{LabelPII}, []string{TaintNet}, []string{"http:response"})

	merged := secret.Merge(pii)

	if !merged.HasLabel(LabelSecret) || !merged.HasLabel(LabelPII) {
		t.Errorf("expected merged descriptor to carry both labels, got %v", merged.LabelSlice())
	}
	if !merged.HasTaint(TaintKeychain) || !merged.HasTaint(TaintNet) {
		t.Errorf("expected merged descriptor to carry both taints, got %v", merged.TaintSlice())
	}
}

func TestDescriptor_MergeIsCommutative(t *testing.T) {
	a := NewDescriptor([]string{LabelSecret}, []string{TaintStdin}, nil)
	b := NewDescriptor([]string{LabelPublic}, []string{TaintNet}, nil)

	ab := a.Merge(b)
	ba := b.Merge(a)

	if len(ab.Labels) != len(ba.Labels) || !ab.HasLabel(LabelSecret) || !ba.HasLabel(LabelSecret) {
		t.Error("expected Merge to be commutative over labels")
	}
	if !ab.HasLabel(LabelPublic) || !ba.HasLabel(LabelPublic) {
		t.Error("expected Merge to be commutative over labels (public)")
	}
}

func TestDescriptor_MergeIsIdempotent(t *testing.T) {
	d := NewDescriptor([]string{LabelSecret}, []string{TaintKeychain}, []string{"src"})

	once := d.Merge(d)
	twice := once.Merge(d)

	if len(twice.Labels) != len(d.Labels) || len(twice.Taint) != len(d.Taint) {
		t.Errorf("expected repeated self-merge to be idempotent, got labels=%v taint=%v", twice.LabelSlice(), twice.TaintSlice())
	}
}

func TestDescriptor_MergeAll_FoldsFromEmptyIdentity(t *testing.T) {
	empty := MergeAll()
	if len(empty.Labels) != 0 || len(empty.Taint) != 0 || len(empty.Sources) != 0 {
		t.Error("expected MergeAll() with no args to return the empty identity")
	}

	a := NewDescriptor([]string{LabelSecret}, nil, nil)
	b := NewDescriptor([]string{LabelPII}, nil, nil)
	c := NewDescriptor([]string{LabelPublic}, nil, nil)

	folded := MergeAll(a, b, c)
	for _, label := range []string{LabelSecret, LabelPII, LabelPublic} {
		if !folded.HasLabel(label) {
			t.Errorf("expected folded descriptor to carry label %q", label)
		}
	}
}

func TestDescriptor_WithLabelAndWithTaint(t *testing.T) {
	d := EmptyDescriptor()

	withSecret := d.WithLabel(LabelSecret)
	if d.HasLabel(LabelSecret) {
		t.Error("WithLabel should not mutate the receiver")
	}
	if !withSecret.HasLabel(LabelSecret) {
		t.Error("expected WithLabel result to carry the new label")
	}

	withTaint := withSecret.WithTaint(TaintKeychain)
	if !withTaint.HasLabel(LabelSecret) || !withTaint.HasTaint(TaintKeychain) {
		t.Error("expected chained WithLabel/WithTaint to accumulate")
	}
}

func TestDescriptor_CloneIsIndependent(t *testing.T) {
	original := NewDescriptor([]string{LabelSecret}, []string{TaintKeychain}, nil)
	clone := original.Clone()

	clone.Labels[LabelPublic] = struct{}{}

	if original.HasLabel(LabelPublic) {
		t.Error("mutating a clone's label set should not affect the original")
	}
	if !clone.HasLabel(LabelSecret) {
		t.Error("expected clone to retain the original's labels")
	}
}
