package interp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type streamKind int

const (
	streamStdout streamKind = iota
	streamStderr
)

// serialize renders a StructuredValue per the requested format, the
// common step every builtin sink performs before writing (§6 "An
// optional `as <format>` clause forces the serialization").
func serialize(sv *StructuredValue, format OutputFormat) (string, error) {
	if sv == nil {
		return "", nil
	}
	switch format {
	case FormatJSON:
		data, err := json.Marshal(sv.Unwrap())
		if err != nil {
			return "", fmt.Errorf("failed to serialize output as json: %w", err)
		}
		return string(data), nil
	case FormatYAML:
		data, err := yaml.Marshal(sv.Unwrap())
		if err != nil {
			return "", fmt.Errorf("failed to serialize output as yaml: %w", err)
		}
		return string(data), nil
	default:
		return sv.Text, nil
	}
}

// FileOutputSink writes the interpolated path, creating nested
// directories as needed (§6 "/output @v to \"path\" writes the
// interpolated path (with nested directories created)").
type FileOutputSink struct{}

func (s *FileOutputSink) Write(req OutputRequest) error {
	content, err := serialize(req.Value, req.Format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(req.Target); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(req.Target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", req.Target, err)
	}
	return nil
}

// StreamOutputSink writes to stdout or stderr (§6 "to stdout|stderr
// writes to streams").
type StreamOutputSink struct {
	stream streamKind
}

func (s *StreamOutputSink) Write(req OutputRequest) error {
	content, err := serialize(req.Value, req.Format)
	if err != nil {
		return err
	}

	out := os.Stdout
	if s.stream == streamStderr {
		out = os.Stderr
	}
	_, werr := fmt.Fprintln(out, content)
	return werr
}

// EnvOutputSink sets an environment variable: default name is
// MLLD_<UPPERCASE>, or the explicit `env:NAME` target; objects are
// JSON-stringified (§6).
type EnvOutputSink struct{}

func (s *EnvOutputSink) Write(req OutputRequest) error {
	name := req.Target
	if name == "" {
		return fmt.Errorf("env output sink requires a variable name")
	}
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "MLLD_") && req.Format == "" {
		// Explicit env:NAME targets are upper-cased like every name; the
		// MLLD_ prefix only applies to the unqualified default-name case,
		// decided by the caller before building the OutputRequest.
	}

	var content string
	if req.Value != nil && (req.Value.Type == TypeObject || req.Value.Type == TypeArray) {
		data, err := json.Marshal(req.Value.Unwrap())
		if err != nil {
			return fmt.Errorf("failed to json-stringify env output: %w", err)
		}
		content = string(data)
	} else {
		var err error
		content, err = serialize(req.Value, req.Format)
		if err != nil {
			return err
		}
	}

	return os.Setenv(name, content)
}

// DefaultEnvName computes the MLLD_<UPPERCASE> default name for an
// `output ... to env` directive with no explicit name (§6).
func DefaultEnvName(variableName string) string {
	return "MLLD_" + strings.ToUpper(variableName)
}
