// deploy orchestrates the full delegate deployment.
//
// It handles:
//  1. Pushing delegate credentials to AWS Secrets Manager
//  2. Bootstrapping AWS CDK
//  3. Deploying the CDK stack
//
// Usage:
//
//	deploy [flags]
//
// Examples:
//
//	deploy                              # Deploy from current directory
//	deploy --env ../.env                # Specify env file location
//	deploy --region us-west-2           # Deploy to specific region
//	deploy --dry-run                    # Show cdk diff without deploying
//	deploy --skip-secrets               # Skip secrets push (if already created)
//
// Install:
//
//	go install github.com/plexusone/delegate-aws-cdk/cmd/deploy@latest
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/plexusone/delegate-aws-cdk/delegate"
	"github.com/plexusone/delegate-aws-cdk/internal/cli"
	"github.com/plexusone/delegate-aws-cdk/secrets"
)

const defaultConfigPath = "delegate.json"

type options struct {
	cli.PushOptions
	skipSecrets   bool
	skipBootstrap bool
}

func main() {
	if cli.Execute(newCommand()) != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the delegate stack",
		Long: `Deploy the delegate stack.

Steps:
  1. Push delegate credentials to AWS Secrets Manager
  2. Bootstrap AWS CDK (if needed)
  3. Deploy CDK stack (cdk diff with --dry-run)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cli.AddVerbosityFlag(cmd)
	cmd.Flags().StringVar(&opts.Region, "region", "", "AWS region (default: AWS_REGION or us-east-1)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", defaultConfigPath, "stack config file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.TaskSpecFile, "task-spec", "", "task spec file, overrides taskSpecFile in the config")
	cmd.Flags().StringVar(&opts.EnvFile, "env", "", "path to .env file (default: auto-detect)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project name for ~/.delegate/projects/{project}/.env lookup")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "preview changes without deploying")
	cmd.Flags().BoolVar(&opts.skipSecrets, "skip-secrets", false, "skip pushing secrets")
	cmd.Flags().BoolVar(&opts.skipBootstrap, "skip-bootstrap", false, "skip CDK bootstrap")

	return cmd
}

func run(ctx context.Context, opts options) error {
	log := logr.FromContextOrDiscard(ctx)
	region := cli.ResolveRegion(opts.Region)

	config, err := delegate.LoadStackConfigFromFile(opts.ConfigPath)
	if err != nil {
		return err
	}
	stackName := config.StackName
	if stackName == "" {
		stackName = delegate.DefaultStackName
	}

	cfg, err := cli.LoadAWSConfig(ctx, region)
	if err != nil {
		return err
	}
	accountID, err := cli.AccountID(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("starting delegate deployment", "stack", stackName, "account", accountID, "region", region, "dryRun", opts.DryRun)

	if opts.skipSecrets {
		log.Info("step 1: skipping secrets push")
	} else {
		log.Info("step 1: pushing secrets")
		if _, err := cli.PushSecrets(ctx, secrets.NewPusher(cfg, opts.DryRun), opts.PushOptions); err != nil {
			return fmt.Errorf("pushing secrets: %w", err)
		}
	}

	if opts.skipBootstrap {
		log.Info("step 2: skipping CDK bootstrap")
	} else {
		log.Info("step 2: bootstrapping CDK")
		bootstrapCDK(ctx, accountID, region, opts.DryRun)
	}

	log.Info("step 3: deploying")
	if err := deployCDK(ctx, opts, accountID, region); err != nil {
		return fmt.Errorf("deploying: %w", err)
	}

	log.Info("deployment complete", "stack", stackName)
	if !opts.DryRun {
		log.Info(fmt.Sprintf("to get outputs: aws cloudformation describe-stacks --stack-name %s --region %s --query 'Stacks[0].Outputs' --no-cli-pager", stackName, region))
	}
	return nil
}

// bootstrapCDK runs cdk bootstrap. A failure usually means the environment
// is already bootstrapped, so it is logged and ignored.
func bootstrapCDK(ctx context.Context, accountID, region string, dryRun bool) {
	log := logr.FromContextOrDiscard(ctx)
	target := fmt.Sprintf("aws://%s/%s", accountID, region)

	if dryRun {
		log.Info("dry run, would run cdk bootstrap", "target", target)
		return
	}

	//nolint:gosec // target is built from AWS SDK values, not user input
	cmd := exec.CommandContext(ctx, "cdk", "bootstrap", target)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Info("bootstrap did not complete, continuing (already bootstrapped?)", "target", target, "error", err.Error())
	}
}

// deployCDK runs cdk deploy, or cdk diff in dry-run mode.
func deployCDK(ctx context.Context, opts options, accountID, region string) error {
	log := logr.FromContextOrDiscard(ctx)

	args := cdkArgs(opts)
	log.V(1).Info("running cdk", "args", args)

	cmd := exec.CommandContext(ctx, "cdk", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"CDK_DEPLOY_ACCOUNT="+accountID,
		"CDK_DEPLOY_REGION="+region,
	)
	return cmd.Run()
}

func cdkArgs(opts options) []string {
	args := []string{"deploy", "--require-approval", "never"}
	if opts.DryRun {
		args = []string{"diff"}
	}

	// cdk.json covers the default config.
	if opts.ConfigPath == defaultConfigPath && opts.TaskSpecFile == "" {
		return args
	}
	app := "go run ./cmd/synth --config " + opts.ConfigPath
	if opts.TaskSpecFile != "" {
		app += " --task-spec " + opts.TaskSpecFile
	}
	return append(args, "--app", app)
}
