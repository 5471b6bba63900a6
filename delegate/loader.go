// Package delegate provides an AWS CDK stack that runs a delegate container on
// ECS Fargate, parameterized by a vendor-supplied task spec.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/constructs-go/constructs/v10"
	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/plexusone/delegate-aws-cdk/taskspec"
)

// LoadStackConfigFromFile loads a StackConfig from a JSON or YAML file. A
// relative taskSpecFile is rewritten relative to the config file's directory.
func LoadStackConfigFromFile(path string) (*StackConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config, err := LoadStackConfigFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if config.TaskSpecFile != "" && !filepath.IsAbs(config.TaskSpecFile) {
		config.TaskSpecFile = filepath.Join(filepath.Dir(path), config.TaskSpecFile)
	}
	return config, nil
}

// LoadStackConfigFromJSON parses a StackConfig from JSON data.
func LoadStackConfigFromJSON(data []byte) (*StackConfig, error) {
	var config StackConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing JSON config: %w", err)
	}
	return &config, nil
}

// LoadStackConfigFromYAML parses a StackConfig from YAML data. JSON is a
// subset of YAML, so JSON data is accepted too.
func LoadStackConfigFromYAML(data []byte) (*StackConfig, error) {
	var config StackConfig
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("parsing YAML config: %w", err)
	}
	return &config, nil
}

// Prepare loads the configured task spec, fills defaults from it and from
// the package defaults, and validates the result. It returns the environment
// to hand to the delegate container.
func Prepare(ctx context.Context, config *StackConfig) (taskspec.Environment, error) {
	log := logr.FromContextOrDiscard(ctx)

	env := taskspec.Environment{}
	refs := map[string]string{}
	if config.TaskSpecFile != "" {
		doc, err := taskspec.LoadTaskSpec(ctx, config.TaskSpecFile)
		if err != nil {
			return nil, err
		}
		env, err = taskspec.ExtractEnvironment(doc)
		if err != nil {
			return nil, fmt.Errorf("extracting environment from %s: %w", config.TaskSpecFile, err)
		}
		refs, err = taskspec.ExtractSecrets(doc)
		if err != nil {
			return nil, fmt.Errorf("extracting secrets from %s: %w", config.TaskSpecFile, err)
		}
		config.ApplyTaskSpec(doc)
	}

	config.ApplyDefaults()
	if len(refs) > 0 || len(config.Task.SecretRefs) > 0 {
		config.Task.SecretRefs = taskspec.Environment(refs).Merge(config.Task.SecretRefs)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stack configuration: %w", err)
	}

	env = env.Merge(config.Task.Environment)
	log.V(1).Info("prepared delegate stack", "stack", config.StackName, "image", config.Task.Image, "variables", len(env))
	return env, nil
}

// NewStackFromFile creates a DelegateStack from a JSON or YAML config file.
func NewStackFromFile(ctx context.Context, scope constructs.Construct, configPath string) (*DelegateStack, error) {
	config, err := LoadStackConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewStackFromConfig(ctx, scope, *config)
}

// NewStackFromConfig prepares config and creates the stack.
func NewStackFromConfig(ctx context.Context, scope constructs.Construct, config StackConfig) (*DelegateStack, error) {
	config = config.Clone()
	env, err := Prepare(ctx, &config)
	if err != nil {
		return nil, err
	}
	return NewDelegateStack(scope, config.StackName, config, env), nil
}

// MustNewStackFromFile is like NewStackFromFile but panics on error.
func MustNewStackFromFile(ctx context.Context, scope constructs.Construct, configPath string) *DelegateStack {
	stack, err := NewStackFromFile(ctx, scope, configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to create stack from %s: %v", configPath, err))
	}
	return stack
}
