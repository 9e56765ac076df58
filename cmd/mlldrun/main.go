// Command mlldrun wires the interpreter's components together. Its
// loadProgram has no parser and returns an error, so no directive
// program is evaluated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlld-lang/mlld/interp"
	httptransform "github.com/mlld-lang/mlld/transformers/http"
	"github.com/mlld-lang/mlld/transformers/keychain"
)

var (
	approverEndpoint string
	providerEndpoint string
	cwd              string
)

func main() {
	root := &cobra.Command{
		Use:   "mlldrun [nodes.json]",
		Short: "Evaluate a parsed mlld directive program",
		Args:  cobra.MaximumNArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&approverEndpoint, "approver", "", "HTTP endpoint for guard prompt approval")
	root.Flags().StringVar(&providerEndpoint, "command-provider", "", "HTTP endpoint for remote command execution")
	root.Flags().StringVar(&cwd, "cwd", "", "project root for path resolution (defaults to the working directory)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = wd
	}

	cfg := &interp.ExecutionConfig{}
	if err := interp.ApplyDefaults(cfg); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}

	var approver interp.Approver
	if approverEndpoint != "" {
		approver = interp.NewHTTPApprover(approverEndpoint, int(cfg.GuardPromptTimeout.Seconds()))
	}

	var cmdProvider interp.CommandProvider
	if providerEndpoint != "" {
		cmdProvider = interp.NewHTTPCommandProvider(providerEndpoint)
	} else {
		cmdProvider = interp.NewLocalCommandProvider()
	}

	env := interp.NewRootEnvironment(cwd, interp.PathContext{
		ProjectRoot:         cwd,
		FileDirectory:       cwd,
		InvocationDirectory: cwd,
	})

	loader := interp.NewContentLoader(nil)
	sinks := interp.NewOutputSinkRegistry()
	policy := interp.NewPolicyEnforcer()
	cm := interp.NewContextManager()

	commandExec := interp.NewCommandExecutor(cfg, cmdProvider)
	codeExec := interp.NewCodeExecutor(commandExec)
	templateRenderer := interp.NewTemplateRenderer()
	refResolver := interp.NewRefResolver()

	container := interp.NewContainer()
	httpPlugin := httptransform.NewPlugin()
	if err := container.RegisterPlugin("http", httpPlugin); err != nil {
		return fmt.Errorf("register http transformer: %w", err)
	}
	if err := container.Initialize(); err != nil {
		return fmt.Errorf("initialize transformers: %w", err)
	}
	defer container.Shutdown()

	keychainStore := keychain.NewStore()
	builtin := interp.NewBuiltinDispatcher(container, keychainStore, cfg, approver)

	invoker := interp.NewExecInvoker(logger, policy, commandExec, codeExec, templateRenderer, refResolver, builtin, cfg, approver, nil, nil)

	evaluator := interp.NewEvaluator(logger, invoker, loader, sinks, policy, cm, nil, approver, nil)

	nodes, err := loadProgram(args)
	if err != nil {
		return err
	}

	if _, err := evaluator.EvalProgram(context.Background(), nodes, env); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	return nil
}

// loadProgram is a placeholder for the out-of-scope parser boundary
// (§1): a production host feeds Node values from a real parser here.
func loadProgram(args []string) ([]interp.Node, error) {
	return nil, fmt.Errorf("no parser wired: mlldrun expects a Node program from an external caller")
}
