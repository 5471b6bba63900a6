// synth synthesizes the delegate stack to a CloudFormation template.
//
// It is the CDK app entry point; cdk.json runs it for cdk synth, diff and
// deploy.
//
// Usage:
//
//	synth [flags]
//
// Examples:
//
//	synth                                  # Use delegate.json
//	synth --config delegate.yaml           # Use a YAML config
//	synth --task-spec ecs-task-spec.json   # Override the task spec file
//
// Install:
//
//	go install github.com/plexusone/delegate-aws-cdk/cmd/synth@latest
package main

import (
	"os"

	"github.com/aws/jsii-runtime-go"
	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/plexusone/delegate-aws-cdk/delegate"
	"github.com/plexusone/delegate-aws-cdk/internal/cli"
)

func main() {
	// A missing .env is fine; CDK_* variables may come from the shell.
	_ = godotenv.Load()

	err := cli.Execute(newCommand())
	jsii.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath, taskSpec string

	cmd := &cobra.Command{
		Use:           "synth",
		Short:         "Synthesize the delegate stack",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath, taskSpec)
		},
	}
	cli.AddVerbosityFlag(cmd)
	cmd.Flags().StringVar(&configPath, "config", "delegate.json", "stack config file (JSON or YAML)")
	cmd.Flags().StringVar(&taskSpec, "task-spec", "", "task spec file, overrides taskSpecFile in the config")

	return cmd
}

func run(cmd *cobra.Command, configPath, taskSpec string) error {
	ctx := cmd.Context()
	log := logr.FromContextOrDiscard(ctx)

	config, err := delegate.LoadStackConfigFromFile(configPath)
	if err != nil {
		return err
	}
	if taskSpec != "" {
		config.TaskSpecFile = taskSpec
	}

	app := delegate.NewApp()
	stack, err := delegate.NewStackFromConfig(ctx, app, *config)
	if err != nil {
		return err
	}
	log.Info("synthesizing delegate stack",
		"stack", stack.Config.StackName,
		"image", stack.Config.Task.Image,
		"variables", len(stack.Environment),
		"secrets", len(stack.SecretKeys),
	)

	delegate.Synth(app)
	return nil
}
