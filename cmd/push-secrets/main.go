// push-secrets pushes delegate credentials to AWS Secrets Manager.
//
// It reads the sensitive variables of the task spec, applies matching values
// from a .env file, and creates or updates the secret named in the stack
// config's secrets block.
//
// Usage:
//
//	push-secrets [flags] [task-spec]
//
// Examples:
//
//	push-secrets                              # Use delegate.json and its task spec
//	push-secrets ecs-task-spec.json           # Push from a specific task spec
//	push-secrets --env ../.env                # Read overrides from a .env file
//	push-secrets --region us-west-2           # Push to a specific region
//	push-secrets --dry-run                    # Preview without creating
//
// Install:
//
//	go install github.com/plexusone/delegate-aws-cdk/cmd/push-secrets@latest
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/plexusone/delegate-aws-cdk/internal/cli"
	"github.com/plexusone/delegate-aws-cdk/secrets"
)

func main() {
	if cli.Execute(newCommand()) != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts cli.PushOptions

	cmd := &cobra.Command{
		Use:   "push-secrets [task-spec]",
		Short: "Push delegate credentials to AWS Secrets Manager",
		Long: `Push delegate credentials to AWS Secrets Manager.

If --env is not specified, the .env file is searched in order:
  1. .env (current directory)
  2. ../.env (parent directory)
  3. ~/.delegate/projects/{project}/.env
  4. ~/.delegate/.env (global fallback)

The project is the stackName in delegate.json, else the directory name.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.TaskSpecFile = args[0]
			}
			ctx := cmd.Context()
			cfg, err := cli.LoadAWSConfig(ctx, cli.ResolveRegion(opts.Region))
			if err != nil {
				return err
			}
			_, err = cli.PushSecrets(ctx, secrets.NewPusher(cfg, opts.DryRun), opts)
			return err
		},
	}
	cli.AddVerbosityFlag(cmd)
	cmd.Flags().StringVar(&opts.Region, "region", "", "AWS region (default: AWS_REGION or us-east-1)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "delegate.json", "stack config file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.EnvFile, "env", "", "path to .env file (default: auto-detect)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project name for ~/.delegate/projects/{project}/.env lookup")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "preview changes without pushing secrets")

	return cmd
}
