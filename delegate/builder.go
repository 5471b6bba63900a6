package delegate

import (
	"context"
	"maps"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
)

// StackBuilder provides a fluent interface for building delegate stacks.
type StackBuilder struct {
	config StackConfig
}

// NewStackBuilder creates a new stack builder.
func NewStackBuilder(stackName string) *StackBuilder {
	return &StackBuilder{
		config: StackConfig{
			StackName: stackName,
			Task:      &TaskConfig{Environment: make(map[string]string)},
			Tags:      make(map[string]string),
		},
	}
}

// WithDescription sets the stack description.
func (b *StackBuilder) WithDescription(description string) *StackBuilder {
	b.config.Description = description
	return b
}

// WithEnv pins the account and region.
func (b *StackBuilder) WithEnv(account, region string) *StackBuilder {
	b.config.Account = account
	b.config.Region = region
	return b
}

// WithTaskSpec sets the task spec file the environment is read from.
func (b *StackBuilder) WithTaskSpec(path string) *StackBuilder {
	b.config.TaskSpecFile = path
	return b
}

// WithImage sets the delegate container image.
func (b *StackBuilder) WithImage(image string) *StackBuilder {
	b.config.Task.Image = image
	return b
}

// WithSize sets the task CPU units and memory in MiB.
func (b *StackBuilder) WithSize(cpu, memoryMiB int) *StackBuilder {
	b.config.Task.CPU = cpu
	b.config.Task.MemoryMiB = memoryMiB
	return b
}

// WithDesiredCount sets the number of delegate tasks to run. 0 creates the
// service scaled down.
func (b *StackBuilder) WithDesiredCount(count int) *StackBuilder {
	b.config.Task.DesiredCount = &count
	return b
}

// WithContainerPort exposes a TCP port on the delegate container.
func (b *StackBuilder) WithContainerPort(port int) *StackBuilder {
	b.config.Task.ContainerPort = port
	return b
}

// WithPublicIP runs the service in public subnets with a public IP.
func (b *StackBuilder) WithPublicIP() *StackBuilder {
	b.config.Task.AssignPublicIP = true
	return b
}

// WithEnvironment overrides environment variables from the task spec.
func (b *StackBuilder) WithEnvironment(env map[string]string) *StackBuilder {
	maps.Copy(b.config.Task.Environment, env)
	return b
}

// WithEnvVar overrides a single environment variable.
func (b *StackBuilder) WithEnvVar(key, value string) *StackBuilder {
	b.config.Task.Environment[key] = value
	return b
}

// WithNewVPC creates a new VPC with the specified CIDR.
func (b *StackBuilder) WithNewVPC(cidr string, maxAZs int) *StackBuilder {
	b.config.VPC = &VPCConfig{
		CreateVPC:   true,
		VPCCidr:     cidr,
		MaxAZs:      maxAZs,
		NatGateways: DefaultNatGateways,
	}
	return b
}

// WithExistingVPC looks up an existing VPC. The stack needs an explicit
// account and region for the lookup.
func (b *StackBuilder) WithExistingVPC(vpcID string) *StackBuilder {
	b.config.VPC = &VPCConfig{VPCID: vpcID}
	return b
}

// WithClusterName names the ECS cluster.
func (b *StackBuilder) WithClusterName(name string) *StackBuilder {
	if b.config.Cluster == nil {
		b.config.Cluster = &ClusterConfig{}
	}
	b.config.Cluster.ClusterName = name
	return b
}

// WithContainerInsights enables CloudWatch Container Insights on the cluster.
func (b *StackBuilder) WithContainerInsights() *StackBuilder {
	if b.config.Cluster == nil {
		b.config.Cluster = &ClusterConfig{}
	}
	b.config.Cluster.ContainerInsights = true
	return b
}

// WithExistingRole uses an existing IAM role as the task role.
func (b *StackBuilder) WithExistingRole(roleARN string) *StackBuilder {
	if b.config.IAM == nil {
		b.config.IAM = &IAMConfig{}
	}
	b.config.IAM.RoleARN = roleARN
	return b
}

// WithManagedPolicies attaches managed policies to the task role.
func (b *StackBuilder) WithManagedPolicies(policyARNs ...string) *StackBuilder {
	if b.config.IAM == nil {
		b.config.IAM = &IAMConfig{}
	}
	b.config.IAM.AdditionalPolicies = append(b.config.IAM.AdditionalPolicies, policyARNs...)
	return b
}

// WithLogging ships container logs to CloudWatch.
func (b *StackBuilder) WithLogging(retentionDays int) *StackBuilder {
	b.config.Logging = &LoggingConfig{
		Enabled:       true,
		RetentionDays: retentionDays,
	}
	return b
}

// WithSecret reads the given variables from a Secrets Manager secret.
func (b *StackBuilder) WithSecret(secretName string, keys ...string) *StackBuilder {
	b.config.Secrets = &SecretsConfig{
		SecretName: secretName,
		Keys:       keys,
	}
	return b
}

// WithDetectedSecrets reads every credential-like variable from a secret.
func (b *StackBuilder) WithDetectedSecrets(secretName string) *StackBuilder {
	b.config.Secrets = &SecretsConfig{
		SecretName: secretName,
		AutoDetect: true,
	}
	return b
}

// WithTags adds tags to all resources.
func (b *StackBuilder) WithTags(tags map[string]string) *StackBuilder {
	maps.Copy(b.config.Tags, tags)
	return b
}

// WithTag adds a single tag.
func (b *StackBuilder) WithTag(key, value string) *StackBuilder {
	b.config.Tags[key] = value
	return b
}

// RetainOnDelete keeps retained resources when the stack is deleted.
func (b *StackBuilder) RetainOnDelete() *StackBuilder {
	b.config.RemovalPolicy = "retain"
	return b
}

// DestroyOnDelete removes resources when the stack is deleted.
func (b *StackBuilder) DestroyOnDelete() *StackBuilder {
	b.config.RemovalPolicy = "destroy"
	return b
}

// Config returns a copy of the current configuration.
func (b *StackBuilder) Config() StackConfig {
	return b.config.Clone()
}

// Validate applies defaults to a copy of the configuration and validates it.
func (b *StackBuilder) Validate() error {
	config := b.config.Clone()
	config.ApplyDefaults()
	return config.Validate()
}

// Build loads the task spec, if any, and creates the delegate stack.
func (b *StackBuilder) Build(ctx context.Context, scope constructs.Construct) (*DelegateStack, error) {
	return NewStackFromConfig(ctx, scope, b.config)
}

// NewApp creates a new CDK app.
func NewApp() awscdk.App {
	return awscdk.NewApp(nil)
}

// Synth synthesizes the CDK app to CloudFormation templates.
func Synth(app awscdk.App) {
	app.Synth(nil)
}
