package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/steperr"
)

func newRunCommand(env Env, shared *sharedFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Clean the input artifact and register the result",
		Example: `  cleanstep run --input_artifact sample.csv:latest --output_artifact clean_sample.csv \
    --output_type clean_sample --output_description "Data with outliers removed" \
    --min_price 10 --max_price 350`,
		Args: invocationArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, env, shared, changed(cmd, sharedBindings, runBindings), false)
			if err != nil {
				return err
			}
			defer a.Close()

			ref, err := a.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, ref.String())
			return nil
		},
	}
	declare(cmd.Flags(), runBindings)
	return cmd
}

func newImportCommand(env Env, shared *sharedFlags) *cobra.Command {
	var meta registry.Metadata
	var aliases []string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Register a local file as a new artifact version",
		Args:  invocationArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if meta.Name == "" || meta.Type == "" {
				return steperr.Newf(steperr.KindInvalidInvocation, "import", "--name and --type are required")
			}
			a, err := openApp(cmd, env, shared, changed(cmd, sharedBindings), true)
			if err != nil {
				return err
			}
			defer a.Close()

			meta.Aliases = aliases
			art, err := a.Import(cmd.Context(), args[0], meta)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, art.Ref().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&meta.Name, "name", "", "Artifact name.")
	cmd.Flags().StringVar(&meta.Type, "type", "", "Artifact type.")
	cmd.Flags().StringVar(&meta.Description, "description", "", "Artifact description.")
	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "Extra alias for the new version (repeatable).")
	return cmd
}

func newArtifactsCommand(env Env, shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts NAME",
		Short: "List the versions of an artifact",
		Args:  invocationArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, env, shared, changed(cmd, sharedBindings), true)
			if err != nil {
				return err
			}
			defer a.Close()

			versions, err := a.Artifacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REF\tTYPE\tSIZE\tDIGEST\tALIASES\tCREATED")
			for _, v := range versions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					v.Ref(), v.Type, v.Size, shortDigest(v.Digest), strings.Join(v.Aliases, ","), v.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newRunsCommand(env Env, shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  invocationArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, env, shared, changed(cmd, sharedBindings), true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Runs(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tJOB\tSTATE\tPHASE\tSTARTED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.JobType, r.State, r.Phase, r.StartedAt.Format(time.RFC3339), r.Error)
			}
			return tw.Flush()
		},
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
