package interp

import "strings"

// TemplatePart is one segment of an interpolated template body (§4.5,
// §6 "Variable reference syntax"). Literal segments carry Literal only;
// interpolated segments carry a VariableReference node resolved
// through the Evaluator's expression path.
type TemplatePart struct {
	Literal string
	Ref     *VariableReference
}

// TemplateRenderer interpolates template parts with no shell escaping
// (§4.5 "simple interpolation, no shell escaping" distinguishing it
// from exec_command's shell-safe interpolation).
type TemplateRenderer struct{}

// NewTemplateRenderer returns a TemplateRenderer.
func NewTemplateRenderer() *TemplateRenderer { return &TemplateRenderer{} }

// Render concatenates parts, substituting resolve(ref) for each
// interpolated segment. resolve returns the string form of the
// referenced variable/field path and the SecurityDescriptor that
// should be merged into the template's own descriptor (§9 "descriptor
// propagation").
func (r *TemplateRenderer) Render(parts []TemplatePart, resolve func(ref *VariableReference) (string, SecurityDescriptor, error)) (*StructuredValue, error) {
	var b strings.Builder
	desc := EmptyDescriptor()

	for _, p := range parts {
		if p.Ref == nil {
			b.WriteString(p.Literal)
			continue
		}
		text, d, err := resolve(p.Ref)
		if err != nil {
			return nil, err
		}
		b.WriteString(text)
		desc = desc.Merge(d)
	}

	return Wrap(b.String()).WithDescriptor(&desc), nil
}
