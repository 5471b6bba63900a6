package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/plexusone/delegate-aws-cdk/delegate"
	"github.com/plexusone/delegate-aws-cdk/secrets"
	"github.com/plexusone/delegate-aws-cdk/taskspec"
)

// PushOptions selects what PushSecrets reads and where it writes.
type PushOptions struct {
	Region       string
	ConfigPath   string
	TaskSpecFile string
	EnvFile      string
	Project      string
	DryRun       bool
}

// PushSecrets pushes the values the stack reads from Secrets Manager. Task
// spec values are overridden by .env values for the same keys. A stack
// without a secrets block is skipped.
func PushSecrets(ctx context.Context, pusher *secrets.Pusher, opts PushOptions) (secrets.Result, error) {
	log := logr.FromContextOrDiscard(ctx)

	config, err := delegate.LoadStackConfigFromFile(opts.ConfigPath)
	if err != nil {
		return "", err
	}
	if opts.TaskSpecFile != "" {
		config.TaskSpecFile = opts.TaskSpecFile
	}
	if config.Secrets == nil {
		log.Info("no secrets configured, skipping secrets push", "config", opts.ConfigPath)
		return secrets.Skipped, nil
	}

	env := taskspec.Environment{}
	if config.TaskSpecFile != "" {
		env, err = taskspec.LoadEnvironment(ctx, config.TaskSpecFile)
		if err != nil {
			return "", err
		}
	}
	if config.Task != nil {
		env = env.Merge(config.Task.Environment)
	}

	overrides, err := readOverrides(ctx, opts)
	if err != nil {
		return "", err
	}

	values := secrets.Collect(config.Secrets.SecretValues(env), overrides, config.Secrets.IsSecret)
	stackName := config.StackName
	if stackName == "" {
		stackName = delegate.DefaultStackName
	}
	description := fmt.Sprintf("Delegate credentials for %s", stackName)

	return pusher.Push(ctx, config.Secrets.SecretID(), description, values)
}

func readOverrides(ctx context.Context, opts PushOptions) (map[string]string, error) {
	log := logr.FromContextOrDiscard(ctx)

	path := opts.EnvFile
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			log.Info("env file not found, using task spec values only", "path", path)
			return nil, nil
		}
	} else {
		project := opts.Project
		if project == "" {
			project = secrets.DetectProjectName()
		}
		found, err := secrets.FindEnvFile(project)
		if err != nil {
			log.V(1).Info("no .env file found, using task spec values only", "project", project)
			return nil, nil
		}
		path = found
	}

	log.Info("reading overrides", "path", path)
	return secrets.ReadEnvFile(path)
}
