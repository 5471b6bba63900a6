package delegate

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/plexusone/delegate-aws-cdk/taskspec"
)

// Defaults applied by StackConfig.ApplyDefaults.
const (
	DefaultStackName        = "cdk-harness-delegate"
	DefaultImage            = "harness/delegate:latest"
	DefaultContainerName    = "delegate"
	DefaultCPU              = 1024
	DefaultMemoryMiB        = 6144
	DefaultDesiredCount     = 1
	DefaultVPCCidr          = "10.0.0.0/16"
	DefaultMaxAZs           = 2
	DefaultNatGateways      = 1
	DefaultLogRetentionDays = 30
	DefaultLogStreamPrefix  = "delegate"
)

// StackConfig describes everything the delegate stack declares.
type StackConfig struct {
	// StackName is the CloudFormation stack name.
	StackName string `json:"stackName"`

	Description string `json:"description,omitempty"`

	// Account and Region pin the stack environment. When empty they are
	// resolved from CDK_DEPLOY_* or CDK_DEFAULT_* variables.
	Account string `json:"account,omitempty"`
	Region  string `json:"region,omitempty"`

	// TaskSpecFile is the path of the vendor task spec whose environment is
	// passed to the delegate container. Relative paths are resolved against
	// the directory of the config file.
	TaskSpecFile string `json:"taskSpecFile,omitempty"`

	VPC     *VPCConfig     `json:"vpc,omitempty"`
	Cluster *ClusterConfig `json:"cluster,omitempty"`
	Task    *TaskConfig    `json:"task,omitempty"`
	IAM     *IAMConfig     `json:"iam,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty"`
	Secrets *SecretsConfig `json:"secrets,omitempty"`

	// Tags are applied to every resource in the stack.
	Tags map[string]string `json:"tags,omitempty"`

	// RemovalPolicy is "destroy" (default) or "retain".
	RemovalPolicy string `json:"removalPolicy,omitempty"`
}

// VPCConfig selects an existing VPC or describes a new one.
type VPCConfig struct {
	VPCID       string `json:"vpcId,omitempty"`
	CreateVPC   bool   `json:"createVpc,omitempty"`
	VPCCidr     string `json:"vpcCidr,omitempty"`
	MaxAZs      int    `json:"maxAzs,omitempty"`
	NatGateways int    `json:"natGateways,omitempty"`
}

// ClusterConfig configures the ECS cluster.
type ClusterConfig struct {
	ClusterName       string `json:"clusterName,omitempty"`
	ContainerInsights bool   `json:"containerInsights,omitempty"`
}

// TaskConfig configures the Fargate task and service.
type TaskConfig struct {
	Family        string `json:"family,omitempty"`
	ContainerName string `json:"containerName,omitempty"`
	Image         string `json:"image,omitempty"`

	// CPU is in Fargate CPU units, MemoryMiB in MiB.
	CPU       int `json:"cpu,omitempty"`
	MemoryMiB int `json:"memoryMiB,omitempty"`

	// DesiredCount is the number of tasks the service runs. Unset means
	// DefaultDesiredCount; 0 keeps the service scaled down.
	DesiredCount   *int   `json:"desiredCount,omitempty"`
	AssignPublicIP bool   `json:"assignPublicIp,omitempty"`
	ContainerPort  int    `json:"containerPort,omitempty"`
	ServiceName    string `json:"serviceName,omitempty"`

	// Environment overrides values from the task spec.
	Environment map[string]string `json:"environment,omitempty"`

	// SecretRefs maps variable names to ECS valueFrom references, either a
	// Secrets Manager secret ARN (optionally ending in ":json-key::") or an
	// SSM parameter ARN. Entries override the task spec's secrets.
	SecretRefs map[string]string `json:"secretRefs,omitempty"`
}

// IAMConfig configures the task role.
type IAMConfig struct {
	// RoleARN imports an existing role instead of creating one.
	RoleARN                string   `json:"roleArn,omitempty"`
	AdditionalPolicies     []string `json:"additionalPolicies,omitempty"`
	PermissionsBoundaryARN string   `json:"permissionsBoundaryArn,omitempty"`
}

// LoggingConfig enables the awslogs driver for the delegate container.
type LoggingConfig struct {
	Enabled       bool   `json:"enabled"`
	LogGroupName  string `json:"logGroupName,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
	StreamPrefix  string `json:"streamPrefix,omitempty"`
}

// SecretsConfig routes sensitive environment values through an existing
// Secrets Manager secret instead of plain task definition environment.
type SecretsConfig struct {
	// SecretName or SecretARN identifies the secret. The secret holds a JSON
	// object keyed by variable name.
	SecretName string `json:"secretName,omitempty"`
	SecretARN  string `json:"secretArn,omitempty"`

	// Keys lists variable names to read from the secret.
	Keys []string `json:"keys,omitempty"`

	// AutoDetect also routes every variable whose name looks like a credential.
	AutoDetect bool `json:"autoDetect,omitempty"`
}

// IsSecret reports whether the named variable is read from the secret.
func (c *SecretsConfig) IsSecret(name string) bool {
	if c == nil {
		return false
	}
	if slices.Contains(c.Keys, name) {
		return true
	}
	return c.AutoDetect && taskspec.IsSensitiveName(name)
}

// Clone returns a deep copy of the configuration.
func (c StackConfig) Clone() StackConfig {
	out := c
	out.Tags = maps.Clone(c.Tags)
	if c.VPC != nil {
		vpc := *c.VPC
		out.VPC = &vpc
	}
	if c.Cluster != nil {
		cluster := *c.Cluster
		out.Cluster = &cluster
	}
	if c.Task != nil {
		task := *c.Task
		task.Environment = maps.Clone(c.Task.Environment)
		task.SecretRefs = maps.Clone(c.Task.SecretRefs)
		if c.Task.DesiredCount != nil {
			task.DesiredCount = intPtr(*c.Task.DesiredCount)
		}
		out.Task = &task
	}
	if c.IAM != nil {
		iam := *c.IAM
		iam.AdditionalPolicies = slices.Clone(c.IAM.AdditionalPolicies)
		out.IAM = &iam
	}
	if c.Logging != nil {
		logging := *c.Logging
		out.Logging = &logging
	}
	if c.Secrets != nil {
		secrets := *c.Secrets
		secrets.Keys = slices.Clone(c.Secrets.Keys)
		out.Secrets = &secrets
	}
	return out
}

// DefaultStackConfig returns a configuration with all defaults applied.
func DefaultStackConfig() StackConfig {
	config := StackConfig{}
	config.ApplyDefaults()
	return config
}

// DefaultVPCConfig returns the settings for a new two-AZ VPC.
func DefaultVPCConfig() *VPCConfig {
	return &VPCConfig{
		CreateVPC:   true,
		VPCCidr:     DefaultVPCCidr,
		MaxAZs:      DefaultMaxAZs,
		NatGateways: DefaultNatGateways,
	}
}

// Desired returns the desired task count, or DefaultDesiredCount when unset.
func (t *TaskConfig) Desired() int {
	if t == nil || t.DesiredCount == nil {
		return DefaultDesiredCount
	}
	return *t.DesiredCount
}

func intPtr(n int) *int {
	return &n
}

// DefaultTaskConfig returns the sizing the vendor recommends for the delegate.
func DefaultTaskConfig() *TaskConfig {
	return &TaskConfig{
		ContainerName: DefaultContainerName,
		Image:         DefaultImage,
		CPU:           DefaultCPU,
		MemoryMiB:     DefaultMemoryMiB,
		DesiredCount:  intPtr(DefaultDesiredCount),
		Environment:   make(map[string]string),
	}
}

// ApplyDefaults fills unset fields. It is safe to call more than once.
func (c *StackConfig) ApplyDefaults() {
	if c.StackName == "" {
		c.StackName = DefaultStackName
	}
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}

	if c.VPC == nil {
		c.VPC = DefaultVPCConfig()
	}
	if c.VPC.VPCID == "" {
		c.VPC.CreateVPC = true
	}
	if c.VPC.CreateVPC {
		if c.VPC.VPCCidr == "" {
			c.VPC.VPCCidr = DefaultVPCCidr
		}
		if c.VPC.MaxAZs == 0 {
			c.VPC.MaxAZs = DefaultMaxAZs
		}
		if c.VPC.NatGateways == 0 {
			c.VPC.NatGateways = DefaultNatGateways
		}
	}

	if c.Cluster == nil {
		c.Cluster = &ClusterConfig{}
	}
	if c.IAM == nil {
		c.IAM = &IAMConfig{}
	}

	if c.Task == nil {
		c.Task = DefaultTaskConfig()
	}
	task := c.Task
	if task.ContainerName == "" {
		task.ContainerName = DefaultContainerName
	}
	if task.Image == "" {
		task.Image = DefaultImage
	}
	if task.CPU == 0 {
		task.CPU = DefaultCPU
	}
	if task.MemoryMiB == 0 {
		task.MemoryMiB = DefaultMemoryMiB
	}
	if task.DesiredCount == nil {
		task.DesiredCount = intPtr(DefaultDesiredCount)
	}
	if task.Environment == nil {
		task.Environment = make(map[string]string)
	}

	if c.Logging != nil && c.Logging.Enabled {
		if c.Logging.RetentionDays == 0 {
			c.Logging.RetentionDays = DefaultLogRetentionDays
		}
		if c.Logging.StreamPrefix == "" {
			c.Logging.StreamPrefix = DefaultLogStreamPrefix
		}
	}
}

// ApplyTaskSpec copies image and sizing from a task spec into fields the
// configuration leaves empty. Call it before ApplyDefaults.
func (c *StackConfig) ApplyTaskSpec(doc *taskspec.Document) {
	if doc == nil {
		return
	}
	if c.Task == nil {
		c.Task = &TaskConfig{}
	}
	if c.Task.Family == "" {
		c.Task.Family = doc.Family
	}
	if c.Task.CPU == 0 {
		c.Task.CPU = int(doc.CPU)
	}
	if c.Task.MemoryMiB == 0 {
		c.Task.MemoryMiB = int(doc.Memory)
	}
	if primary := doc.PrimaryContainer(); primary != nil && c.Task.Image == "" {
		c.Task.Image = primary.Image
	}
}

// Validate checks the configuration. Call ApplyDefaults first.
func (c *StackConfig) Validate() error {
	if c.StackName == "" {
		return fmt.Errorf("stackName is required")
	}

	if c.VPC != nil && c.VPC.VPCID != "" && c.VPC.CreateVPC {
		return fmt.Errorf("vpc: vpcId and createVpc are mutually exclusive")
	}
	if c.VPC != nil && c.VPC.MaxAZs < 0 {
		return fmt.Errorf("vpc: maxAzs must not be negative")
	}

	if c.Task == nil {
		return fmt.Errorf("task configuration is required")
	}
	if c.Task.Image == "" {
		return fmt.Errorf("task: image is required")
	}
	if c.Task.ContainerName == "" {
		return fmt.Errorf("task: containerName is required")
	}
	if err := ValidateFargateSize(c.Task.CPU, c.Task.MemoryMiB); err != nil {
		return fmt.Errorf("task: %w", err)
	}
	if c.Task.Desired() < 0 {
		return fmt.Errorf("task: desiredCount must not be negative")
	}
	if c.Task.ContainerPort < 0 || c.Task.ContainerPort > 65535 {
		return fmt.Errorf("task: containerPort %d out of range", c.Task.ContainerPort)
	}
	for name, ref := range c.Task.SecretRefs {
		if SecretRefKind(ref) == "" {
			return fmt.Errorf("task: secretRefs[%s]: %q is not a Secrets Manager ARN or SSM parameter", name, ref)
		}
	}

	switch c.RemovalPolicy {
	case "", "destroy", "retain":
	default:
		return fmt.Errorf("removalPolicy must be \"destroy\" or \"retain\", got %q", c.RemovalPolicy)
	}

	if c.Logging != nil && c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging: retentionDays must not be negative")
	}

	if c.Secrets != nil {
		if c.Secrets.SecretName == "" && c.Secrets.SecretARN == "" {
			return fmt.Errorf("secrets: secretName or secretArn is required")
		}
		if len(c.Secrets.Keys) == 0 && !c.Secrets.AutoDetect {
			return fmt.Errorf("secrets: keys is empty and autoDetect is off")
		}
	}

	return nil
}

// fargateMemory lists the memory sizes Fargate accepts for each CPU value.
var fargateMemory = map[int][]int{
	256:   {512, 1024, 2048},
	512:   memoryRange(1024, 4096, 1024),
	1024:  memoryRange(2048, 8192, 1024),
	2048:  memoryRange(4096, 16384, 1024),
	4096:  memoryRange(8192, 30720, 1024),
	8192:  memoryRange(16384, 61440, 4096),
	16384: memoryRange(32768, 122880, 8192),
}

func memoryRange(from, to, step int) []int {
	var values []int
	for m := from; m <= to; m += step {
		values = append(values, m)
	}
	return values
}

// ValidCPUValues returns the Fargate CPU values in ascending order.
func ValidCPUValues() []int {
	values := make([]int, 0, len(fargateMemory))
	for cpu := range fargateMemory {
		values = append(values, cpu)
	}
	slices.Sort(values)
	return values
}

// ValidateFargateSize checks a CPU/memory pair against the Fargate task size table.
func ValidateFargateSize(cpu, memoryMiB int) error {
	memory, ok := fargateMemory[cpu]
	if !ok {
		return fmt.Errorf("cpu %d is not a Fargate size (valid: %v)", cpu, ValidCPUValues())
	}
	if !slices.Contains(memory, memoryMiB) {
		return fmt.Errorf("memory %d MiB is not valid with cpu %d (%d-%d MiB)", memoryMiB, cpu, memory[0], memory[len(memory)-1])
	}
	return nil
}

// SecretValues returns the task spec values of the variables routed to the
// secret. Explicit keys missing from env are left out.
func (c *SecretsConfig) SecretValues(env taskspec.Environment) map[string]string {
	if c == nil {
		return map[string]string{}
	}
	_, sensitive := env.Split(c.IsSecret)
	return sensitive
}

// SecretID returns the name or ARN used to address the secret.
func (c *SecretsConfig) SecretID() string {
	if c == nil {
		return ""
	}
	if c.SecretName != "" {
		return c.SecretName
	}
	return c.SecretARN
}

// Kinds of secret reference returned by SecretRefKind.
const (
	SecretRefSecretsManager = "secretsmanager"
	SecretRefSSM            = "ssm"
)

// SecretRefKind reports which service an ECS valueFrom points at, or "" when
// ref is not supported. A value that is not an ARN is an SSM parameter name in
// the stack's region.
func SecretRefKind(ref string) string {
	if !strings.HasPrefix(ref, "arn:") {
		if isParameterName(ref) {
			return SecretRefSSM
		}
		return ""
	}
	parts := strings.SplitN(ref, ":", 7)
	if len(parts) < 6 {
		return ""
	}
	switch {
	case parts[2] == "secretsmanager" && len(parts) == 7 && parts[5] == "secret":
		return SecretRefSecretsManager
	case parts[2] == "ssm" && strings.HasPrefix(parts[5], "parameter/"):
		return SecretRefSSM
	}
	return ""
}

// isParameterName reports whether name uses only the characters SSM allows
// in parameter names.
func isParameterName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_.-/", r):
		default:
			return false
		}
	}
	return true
}
