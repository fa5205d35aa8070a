package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/cleanstep/internal/app"
	"github.com/vk/cleanstep/internal/config"
	"github.com/vk/cleanstep/internal/steperr"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitCode maps an error returned by Execute to a process exit code.
// Invocation and validation problems exit with 2, everything else with 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch steperr.KindOf(err) {
	case steperr.KindInvalidInvocation, steperr.KindValidation:
		return ExitUsage
	}
	return ExitFailure
}

// Env carries the process-level dependencies of the command tree.
type Env struct {
	Out io.Writer // command results
	Err io.Writer // logs
	// Environ defaults to os.Environ.
	Environ func() []string
	// AppOptions are passed to every App the commands create.
	AppOptions []app.Option
}

func (e Env) withDefaults() Env {
	if e.Out == nil {
		e.Out = os.Stdout
	}
	if e.Err == nil {
		e.Err = os.Stderr
	}
	if e.Environ == nil {
		e.Environ = os.Environ
	}
	return e
}

// Execute runs the command line given by args.
func Execute(ctx context.Context, env Env, args []string) error {
	root := NewRootCommand(env)
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the cleanstep command tree.
func NewRootCommand(env Env) *cobra.Command {
	env = env.withDefaults()
	shared := &sharedFlags{}

	root := &cobra.Command{
		Use:   "cleanstep",
		Short: "Basic cleaning step for tabular listing data",
		Long: `cleanstep resolves a CSV artifact from the local registry, drops rows whose
price is outside [min_price, max_price], normalizes the review date column
and registers the result as a new artifact version.`,
		Args:          invocationArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(env.Out)
	root.SetErr(env.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return steperr.New(steperr.KindInvalidInvocation, "cli", "invalid flags", err)
	})
	shared.register(root)

	root.AddCommand(
		newRunCommand(env, shared),
		newImportCommand(env, shared),
		newArtifactsCommand(env, shared),
		newRunsCommand(env, shared),
	)
	return root
}

// invocationArgs tags argument validation failures as invocation errors.
func invocationArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return steperr.New(steperr.KindInvalidInvocation, cmd.Name(), "invalid arguments", err)
		}
		return nil
	}
}

// openApp resolves the configuration and builds an App from it.
func openApp(cmd *cobra.Command, env Env, shared *sharedFlags, flags map[string]string, ambientOnly bool) (*app.App, error) {
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		ConfigFile:  shared.configFile,
		EnvFile:     shared.envFile,
		Flags:       flags,
		Environ:     env.Environ,
		AmbientOnly: ambientOnly,
	})
	if err != nil {
		return nil, err
	}
	a, err := app.New(env.Err, cfg, env.AppOptions...)
	if err != nil {
		return nil, fmt.Errorf("starting cleanstep: %w", err)
	}
	return a, nil
}
