package interp

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// FSPolicy is the filesystem-policy boundary ContentLoader reads
// through (§4.10 "reads via the filesystem-policy layer (this is the
// authorized boundary for file reads)"). A production host wires this
// to a sandbox root check; tests substitute a permissive stub.
type FSPolicy interface {
	Allow(path string) error
}

// OpenFSPolicy allows every path. Used when no sandboxing is configured.
type OpenFSPolicy struct{}

func (OpenFSPolicy) Allow(string) error { return nil }

// ContentLoader resolves path/section/load-content/file-reference RHS
// expressions (§4.10).
type ContentLoader struct {
	fs FSPolicy
}

// NewContentLoader returns a ContentLoader. fs defaults to OpenFSPolicy
// when nil.
func NewContentLoader(fs FSPolicy) *ContentLoader {
	if fs == nil {
		fs = OpenFSPolicy{}
	}
	return &ContentLoader{fs: fs}
}

// LoadPath reads a file after policy approval, returning its contents
// wrapped with the path recorded as a descriptor source; no taint is
// added (§4.10 "path").
func (l *ContentLoader) LoadPath(path string) (*StructuredValue, error) {
	if err := l.fs.Allow(path); err != nil {
		return nil, &InterpError{Kind: KindPolicySecurity, Code: "FS_DENIED", Message: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InterpError{Kind: KindExecution, Code: "FS_READ_FAILED", Message: fmt.Sprintf("cannot read %s: %s", path, err), Cause: err}
	}
	d := NewDescriptor(nil, nil, []string{path})
	return Wrap(string(data)).WithDescriptor(&d), nil
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// LoadSection reads path and extracts the named section — the run of
// lines from the matching heading up to (not including) the next
// heading of equal or higher rank (§4.10 "section").
//
// When more than one heading in the document matches name, the
// nearest-following heading relative to the top of the document wins:
// the first match encountered during a single top-to-bottom scan. This
// mirrors how a reader skimming the document would find "the Foo
// section" — the first occurrence, not the last.
func (l *ContentLoader) LoadSection(path, name string) (*StructuredValue, error) {
	whole, err := l.LoadPath(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(whole.Text, "\n")
	matchIdx := -1
	matchRank := 0
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.TrimSpace(m[2]) == strings.TrimSpace(name) {
			matchIdx = i
			matchRank = len(m[1])
			break
		}
	}
	if matchIdx == -1 {
		return nil, &InterpError{
			Kind:    KindResolution,
			Code:    "SECTION_NOT_FOUND",
			Message: fmt.Sprintf("section %q not found in %s", name, path),
		}
	}

	end := len(lines)
	for i := matchIdx + 1; i < len(lines); i++ {
		m := headingRe.FindStringSubmatch(lines[i])
		if m != nil && len(m[1]) <= matchRank {
			end = i
			break
		}
	}

	section := strings.Join(lines[matchIdx:end], "\n")
	d := NewDescriptor(nil, nil, []string{path})
	return Wrap(section).WithDescriptor(&d), nil
}

// RenameSection applies the asSection post-transform: replaces the
// extracted section's own heading line with the given name, preserving
// rank (§4.10 "asSection rename").
func (l *ContentLoader) RenameSection(section *StructuredValue, newName string) *StructuredValue {
	lines := strings.SplitN(section.Text, "\n", 2)
	m := headingRe.FindStringSubmatch(lines[0])
	if m == nil {
		return section
	}
	renamed := m[1] + " " + newName
	if len(lines) > 1 {
		renamed += "\n" + lines[1]
	}
	out := Wrap(renamed)
	return out.WithDescriptor(section.Descriptor)
}

// LoadGlob resolves a glob pattern into one StructuredValue per match,
// applying transform (e.g. an asSection rename) to each (§4.10
// "attached as a per-file transform for glob load-content").
func (l *ContentLoader) LoadGlob(pattern string, transform func(*StructuredValue) *StructuredValue) ([]*StructuredValue, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, &InterpError{Kind: KindExecution, Code: "GLOB_INVALID", Message: err.Error(), Cause: err}
	}
	out := make([]*StructuredValue, 0, len(matches))
	for _, m := range matches {
		sv, err := l.LoadPath(m)
		if err != nil {
			return nil, err
		}
		if transform != nil {
			sv = transform(sv)
		}
		out = append(out, sv)
	}
	return out, nil
}

// ResolveFieldPath traverses sv's typed payload through a `.field` /
// `[index]` accessor chain, using gabs for map/array navigation. Any
// undefined step fails with the exact §7 message format (§4.10 "file
// reference with fields").
func ResolveFieldPath(sv *StructuredValue, path []string) (*StructuredValue, error) {
	container := gabs.Wrap(sv.Unwrap())

	current := container
	typeName := describeType(sv.Unwrap())
	for _, step := range path {
		if idx, err := strconv.Atoi(step); err == nil {
			arr, ok := current.Data().([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, ErrUnresolvedField(step, typeName)
			}
			current = gabs.Wrap(arr[idx])
			typeName = describeType(current.Data())
			continue
		}

		if !current.Exists(step) {
			return nil, ErrUnresolvedField(step, typeName)
		}
		current = current.Search(step)
		typeName = describeType(current.Data())
	}

	return Wrap(current.Data()).WithDescriptor(sv.Descriptor), nil
}

func describeType(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
