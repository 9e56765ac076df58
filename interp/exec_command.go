package interp

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// CommandResult is the outcome of a shell command execution (§4.3).
type CommandResult struct {
	Output   string
	Duration time.Duration
	ExitCode int
}

// CommandProvider executes a resolved shell command line. The default
// implementation shells out via os/exec; a host may pass an
// HTTPCommandProvider to NewCommandExecutor instead (§4.3). A with-clause
// `using:` map is not read when choosing the provider.
type CommandProvider interface {
	RunCommand(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// CommandRequest bundles everything a CommandProvider needs (§4.3 "the
// configured provider receives { command, workingDirectory, vars,
// secrets }").
type CommandRequest struct {
	Command          string
	WorkingDirectory string
	Vars             map[string]string
	Secrets          map[string]string
}

var shellMetachars = regexp.MustCompile(`[;&|<>$` + "`" + `]`)

// LocalCommandProvider runs commands on the host shell via os/exec.
type LocalCommandProvider struct {
	Shell string // defaults to "sh"
}

// NewLocalCommandProvider returns a LocalCommandProvider using "sh -c".
func NewLocalCommandProvider() *LocalCommandProvider {
	return &LocalCommandProvider{Shell: "sh"}
}

func (p *LocalCommandProvider) RunCommand(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	shell := p.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", req.Command)
	cmd.Dir = req.WorkingDirectory
	for k, v := range req.Vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range req.Secrets {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, &InterpError{
				Kind:             KindExecution,
				Code:             "COMMAND_EXEC_FAILED",
				Message:          fmt.Sprintf("command execution failed: %s", err),
				Command:          req.Command,
				DurationMillis:   duration.Milliseconds(),
				WorkingDirectory: req.WorkingDirectory,
				Cause:            err,
			}
		}
	}

	if exitCode != 0 {
		return nil, &InterpError{
			Kind:             KindExecution,
			Code:             "COMMAND_NONZERO_EXIT",
			Message:          fmt.Sprintf("command exited with code %d", exitCode),
			Command:          req.Command,
			ExitCode:         exitCode,
			DurationMillis:   duration.Milliseconds(),
			Stderr:           stderr.String(),
			WorkingDirectory: req.WorkingDirectory,
			DirectiveType:    "run",
		}
	}

	return &CommandResult{Output: stdout.String(), Duration: duration, ExitCode: exitCode}, nil
}

// CommandExecutor takes an already-interpolated command line, enforces
// payload caps and the metacharacter safelist, then dispatches to a
// CommandProvider (§4.3).
type CommandExecutor struct {
	cfg      *ExecutionConfig
	provider CommandProvider
}

// NewCommandExecutor returns a CommandExecutor. cfg may be nil to use
// ExecutionConfig zero-value defaults (apply ApplyDefaults first in
// practice). provider defaults to LocalCommandProvider when nil.
func NewCommandExecutor(cfg *ExecutionConfig, provider CommandProvider) *CommandExecutor {
	if provider == nil {
		provider = NewLocalCommandProvider()
	}
	return &CommandExecutor{cfg: cfg, provider: provider}
}

// Execute runs commandText (already shell-safe-interpolated by the
// caller against the child env; no interpolation happens here), honoring payload caps
// and the shell-metacharacter safelist (§4.3).
func (c *CommandExecutor) Execute(ctx context.Context, commandText string, workingDirectory string, envVars map[string]string, provider CommandProvider) (*StructuredValue, error) {
	maxCmd := 1048576
	maxEnv := 262144
	allowMeta := false
	if c.cfg != nil {
		if c.cfg.MaxCommandPayloadBytes > 0 {
			maxCmd = c.cfg.MaxCommandPayloadBytes
		}
		if c.cfg.MaxEnvPayloadBytes > 0 {
			maxEnv = c.cfg.MaxEnvPayloadBytes
		}
		allowMeta = c.cfg.AllowShellMetacharacters
	}

	if len(commandText) > maxCmd {
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "COMMAND_PAYLOAD_TOO_LARGE",
			Message: fmt.Sprintf("command payload of %d bytes exceeds the %d byte cap", len(commandText), maxCmd),
			Command: truncate(commandText, 200),
		}
	}

	envSize := 0
	for k, v := range envVars {
		envSize += len(k) + len(v)
	}
	if envSize > maxEnv {
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "ENV_PAYLOAD_TOO_LARGE",
			Message: fmt.Sprintf("env payload of %d bytes exceeds the %d byte cap", envSize, maxEnv),
		}
	}

	if !allowMeta && shellMetachars.MatchString(commandText) {
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "SHELL_METACHARACTER_REJECTED",
			Message: fmt.Sprintf("command contains disallowed shell metacharacters: %s", strings.TrimSpace(commandText)),
			Command: commandText,
		}
	}

	runner := provider
	if runner == nil {
		runner = c.provider
	}

	result, err := runner.RunCommand(ctx, CommandRequest{
		Command:          commandText,
		WorkingDirectory: workingDirectory,
		Vars:             envVars,
	})
	if err != nil {
		return nil, err
	}

	return Wrap(result.Output), nil
}

// ShellSafeRenderer interpolates a command template's text/variable
// segments with POSIX single-quote escaping applied to every
// interpolated value, distinguishing it from TemplateRenderer's
// unescaped interpolation (§4.3 vs §4.5).
type ShellSafeRenderer struct{}

// NewShellSafeRenderer returns a ShellSafeRenderer.
func NewShellSafeRenderer() *ShellSafeRenderer { return &ShellSafeRenderer{} }

// Render concatenates parts, single-quote-escaping each interpolated
// segment so it cannot introduce shell metacharacters regardless of its
// content.
func (r *ShellSafeRenderer) Render(parts []TemplatePart, resolve func(ref *VariableReference) (string, SecurityDescriptor, error)) (string, SecurityDescriptor, error) {
	var b strings.Builder
	desc := EmptyDescriptor()

	for _, p := range parts {
		if p.Ref == nil {
			b.WriteString(p.Literal)
			continue
		}
		text, d, err := resolve(p.Ref)
		if err != nil {
			return "", desc, err
		}
		b.WriteString(shellQuote(text))
		desc = desc.Merge(d)
	}

	return b.String(), desc, nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes
// using the standard '\'' POSIX idiom.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
