package delegate

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsec2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/plexusone/delegate-aws-cdk/taskspec"
)

// DelegateStack is a CDK stack running the delegate as a Fargate service.
type DelegateStack struct {
	awscdk.Stack

	// Config is the stack configuration, with defaults applied.
	Config StackConfig

	// Environment holds the variables set in plain text on the container.
	Environment taskspec.Environment

	// SecretKeys lists the variables read from Secret at container launch.
	SecretKeys []string

	VPC            awsec2.IVpc
	Cluster        awsecs.Cluster
	TaskRole       awsiam.IRole
	Secret         awssecretsmanager.ISecret
	LogGroup       awslogs.ILogGroup
	TaskDefinition awsecs.TaskDefinition
	Container      awsecs.ContainerDefinition
	Service        awsecs.FargateService
}

// NewDelegateStack creates the delegate stack. env is the environment
// extracted from the task spec, already merged with config overrides.
// It panics if config is invalid.
func NewDelegateStack(scope constructs.Construct, id string, config StackConfig, env taskspec.Environment) *DelegateStack {
	config = config.Clone()
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid stack configuration: %v", err))
	}

	stack := awscdk.NewStack(scope, jsii.String(id), &awscdk.StackProps{
		StackName:   jsii.String(config.StackName),
		Description: descriptionOrNil(config.Description),
		Env:         CdkEnv(config.Account, config.Region),
		Tags:        convertTags(config.Tags),
	})

	s := &DelegateStack{
		Stack:  stack,
		Config: config,
	}

	s.Environment, s.SecretKeys = splitEnvironment(env, config.Secrets, config.Task.SecretRefs)

	s.createVPC()
	s.createCluster()
	s.createTaskRole()
	s.createSecret()
	s.createLogGroup()
	s.createTaskDefinition()
	s.createService()

	s.addOutputs()

	return s
}

func splitEnvironment(env taskspec.Environment, secrets *SecretsConfig, refs map[string]string) (taskspec.Environment, []string) {
	env = env.Clone()
	for name := range refs {
		delete(env, name)
	}
	if secrets == nil {
		return env, nil
	}
	plain, sensitive := env.Split(secrets.IsSecret)

	// Explicit keys are read from the secret even when the task spec does
	// not declare them.
	for _, key := range secrets.Keys {
		if _, ok := refs[key]; ok {
			continue
		}
		if _, ok := sensitive[key]; !ok {
			sensitive[key] = ""
		}
	}
	return plain, sensitive.Keys()
}

// createVPC creates or imports the VPC.
func (s *DelegateStack) createVPC() {
	vpcConfig := s.Config.VPC

	if vpcConfig.VPCID != "" {
		s.VPC = awsec2.Vpc_FromLookup(s.Stack, jsii.String("VPC"), &awsec2.VpcLookupOptions{
			VpcId: jsii.String(vpcConfig.VPCID),
		})
		return
	}

	s.VPC = awsec2.NewVpc(s.Stack, jsii.String("VPC"), &awsec2.VpcProps{
		VpcName:     jsii.String(fmt.Sprintf("%s-vpc", s.Config.StackName)),
		IpAddresses: awsec2.IpAddresses_Cidr(jsii.String(vpcConfig.VPCCidr)),
		MaxAzs:      jsii.Number(float64(vpcConfig.MaxAZs)),
		NatGateways: jsii.Number(float64(vpcConfig.NatGateways)),
		SubnetConfiguration: &[]*awsec2.SubnetConfiguration{
			{
				Name:       jsii.String("Private"),
				SubnetType: awsec2.SubnetType_PRIVATE_WITH_EGRESS,
				CidrMask:   jsii.Number(24),
			},
			{
				Name:       jsii.String("Public"),
				SubnetType: awsec2.SubnetType_PUBLIC,
				CidrMask:   jsii.Number(24),
			},
		},
	})
}

// createCluster creates the ECS cluster in the VPC.
func (s *DelegateStack) createCluster() {
	props := &awsecs.ClusterProps{
		Vpc: s.VPC,
	}
	if s.Config.Cluster.ClusterName != "" {
		props.ClusterName = jsii.String(s.Config.Cluster.ClusterName)
	}
	if s.Config.Cluster.ContainerInsights {
		props.ContainerInsightsV2 = awsecs.ContainerInsights_ENABLED
	}

	s.Cluster = awsecs.NewCluster(s.Stack, jsii.String("Cluster"), props)
}

// createTaskRole creates the IAM role the delegate task runs as.
func (s *DelegateStack) createTaskRole() {
	iamConfig := s.Config.IAM

	if iamConfig.RoleARN != "" {
		s.TaskRole = awsiam.Role_FromRoleArn(
			s.Stack,
			jsii.String("TaskRole"),
			jsii.String(iamConfig.RoleARN),
			&awsiam.FromRoleArnOptions{},
		)
		return
	}

	role := awsiam.NewRole(s.Stack, jsii.String("TaskRole"), &awsiam.RoleProps{
		Description: jsii.String(fmt.Sprintf("Task role for the %s delegate", s.Config.StackName)),
		AssumedBy:   awsiam.NewServicePrincipal(jsii.String("ecs-tasks.amazonaws.com"), nil),
	})

	// Image pulls and log shipping
	role.AddToPolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect: awsiam.Effect_ALLOW,
		Actions: jsii.Strings(
			"ecr:GetAuthorizationToken",
			"ecr:BatchCheckLayerAvailability",
			"ecr:GetDownloadUrlForLayer",
			"ecr:BatchGetImage",
			"logs:CreateLogStream",
			"logs:PutLogEvents",
		),
		Resources: jsii.Strings("*"),
	}))

	for i, policyARN := range iamConfig.AdditionalPolicies {
		role.AddManagedPolicy(awsiam.ManagedPolicy_FromManagedPolicyArn(
			s.Stack,
			jsii.String(fmt.Sprintf("Policy%d", i)),
			jsii.String(policyARN),
		))
	}

	if iamConfig.PermissionsBoundaryARN != "" {
		awsiam.PermissionsBoundary_Of(role).Apply(
			awsiam.ManagedPolicy_FromManagedPolicyArn(
				s.Stack,
				jsii.String("PermissionsBoundary"),
				jsii.String(iamConfig.PermissionsBoundaryARN),
			),
		)
	}

	s.TaskRole = role
}

// createSecret imports the Secrets Manager secret holding sensitive variables.
func (s *DelegateStack) createSecret() {
	secretsConfig := s.Config.Secrets
	if secretsConfig == nil || len(s.SecretKeys) == 0 {
		return
	}

	if secretsConfig.SecretARN != "" {
		s.Secret = awssecretsmanager.Secret_FromSecretCompleteArn(
			s.Stack,
			jsii.String("Secret"),
			jsii.String(secretsConfig.SecretARN),
		)
		return
	}

	s.Secret = awssecretsmanager.Secret_FromSecretNameV2(
		s.Stack,
		jsii.String("Secret"),
		jsii.String(secretsConfig.SecretName),
	)
}

// createLogGroup creates the CloudWatch log group when logging is enabled.
func (s *DelegateStack) createLogGroup() {
	if s.Config.Logging == nil || !s.Config.Logging.Enabled {
		return
	}

	logGroupName := s.Config.Logging.LogGroupName
	if logGroupName == "" {
		logGroupName = fmt.Sprintf("/ecs/%s", s.Config.StackName)
	}

	s.LogGroup = awslogs.NewLogGroup(s.Stack, jsii.String("LogGroup"), &awslogs.LogGroupProps{
		LogGroupName:  jsii.String(logGroupName),
		Retention:     retentionDays(s.Config.Logging.RetentionDays),
		RemovalPolicy: s.removalPolicy(),
	})
}

// retentionDays rounds days up to the nearest retention CloudWatch supports.
func retentionDays(days int) awslogs.RetentionDays {
	switch {
	case days <= 1:
		return awslogs.RetentionDays_ONE_DAY
	case days <= 7:
		return awslogs.RetentionDays_ONE_WEEK
	case days <= 14:
		return awslogs.RetentionDays_TWO_WEEKS
	case days <= 30:
		return awslogs.RetentionDays_ONE_MONTH
	case days <= 90:
		return awslogs.RetentionDays_THREE_MONTHS
	case days <= 180:
		return awslogs.RetentionDays_SIX_MONTHS
	case days <= 365:
		return awslogs.RetentionDays_ONE_YEAR
	default:
		return awslogs.RetentionDays_INFINITE
	}
}

func (s *DelegateStack) removalPolicy() awscdk.RemovalPolicy {
	if s.Config.RemovalPolicy == "retain" {
		return awscdk.RemovalPolicy_RETAIN
	}
	return awscdk.RemovalPolicy_DESTROY
}

// createTaskDefinition creates the Fargate task definition and its container.
func (s *DelegateStack) createTaskDefinition() {
	task := s.Config.Task

	props := &awsecs.TaskDefinitionProps{
		Compatibility: awsecs.Compatibility_FARGATE,
		Cpu:           jsii.String(strconv.Itoa(task.CPU)),
		MemoryMiB:     jsii.String(strconv.Itoa(task.MemoryMiB)),
		TaskRole:      s.TaskRole,
	}
	if task.Family != "" {
		props.Family = jsii.String(task.Family)
	}

	s.TaskDefinition = awsecs.NewTaskDefinition(s.Stack, jsii.String("TaskDefinition"), props)

	options := &awsecs.ContainerDefinitionOptions{
		ContainerName: jsii.String(task.ContainerName),
		Image:         awsecs.ContainerImage_FromRegistry(jsii.String(task.Image), nil),
		Essential:     jsii.Bool(true),
		Environment:   s.containerEnvironment(),
	}

	secrets := make(map[string]awsecs.Secret, len(s.SecretKeys)+len(task.SecretRefs))
	if s.Secret != nil {
		for _, key := range s.SecretKeys {
			secrets[key] = awsecs.Secret_FromSecretsManager(s.Secret, jsii.String(key))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(task.SecretRefs)) {
		secrets[name] = s.secretFromRef(name, task.SecretRefs[name])
	}
	if len(secrets) > 0 {
		options.Secrets = &secrets
	}

	if s.LogGroup != nil {
		options.Logging = awsecs.LogDriver_AwsLogs(&awsecs.AwsLogDriverProps{
			StreamPrefix: jsii.String(s.Config.Logging.StreamPrefix),
			LogGroup:     s.LogGroup,
		})
	}

	if task.ContainerPort > 0 {
		options.PortMappings = &[]*awsecs.PortMapping{
			{
				ContainerPort: jsii.Number(float64(task.ContainerPort)),
				Protocol:      awsecs.Protocol_TCP,
			},
		}
	}

	s.Container = s.TaskDefinition.AddContainer(jsii.String(task.ContainerName), options)
}

// secretFromRef imports the secret or SSM parameter behind an ECS valueFrom
// reference. Validate has already checked the reference kind.
func (s *DelegateStack) secretFromRef(name, ref string) awsecs.Secret {
	id := jsii.String(fmt.Sprintf("SecretRef%s", name))

	if SecretRefKind(ref) == SecretRefSSM {
		parameterName := ref
		if strings.HasPrefix(ref, "arn:") {
			// arn:aws:ssm:region:account:parameter/path
			parameterName = strings.TrimPrefix(strings.SplitN(ref, ":", 6)[5], "parameter")
			if strings.Count(parameterName, "/") == 1 {
				parameterName = strings.TrimPrefix(parameterName, "/")
			}
		}
		parameter := awsssm.StringParameter_FromSecureStringParameterAttributes(s.Stack, id,
			&awsssm.SecureStringParameterAttributes{
				ParameterName: jsii.String(parameterName),
			})
		return awsecs.Secret_FromSsmParameter(parameter)
	}

	// arn:aws:secretsmanager:region:account:secret:name[:json-key:version-stage:version-id]
	parts := strings.Split(ref, ":")
	secret := awssecretsmanager.Secret_FromSecretCompleteArn(s.Stack, id,
		jsii.String(strings.Join(parts[:7], ":")))
	var field *string
	if len(parts) > 7 && parts[7] != "" {
		field = jsii.String(parts[7])
	}
	return awsecs.Secret_FromSecretsManager(secret, field)
}

// containerEnvironment converts the plain environment to CDK format.
func (s *DelegateStack) containerEnvironment() *map[string]*string {
	env := make(map[string]*string, len(s.Environment))
	for k, v := range s.Environment {
		env[k] = jsii.String(v)
	}
	return &env
}

// createService creates the Fargate service running the task.
func (s *DelegateStack) createService() {
	task := s.Config.Task

	subnetType := awsec2.SubnetType_PRIVATE_WITH_EGRESS
	if task.AssignPublicIP {
		subnetType = awsec2.SubnetType_PUBLIC
	}

	props := &awsecs.FargateServiceProps{
		Cluster:        s.Cluster,
		TaskDefinition: s.TaskDefinition,
		DesiredCount:   jsii.Number(float64(task.Desired())),
		AssignPublicIp: jsii.Bool(task.AssignPublicIP),
		VpcSubnets: &awsec2.SubnetSelection{
			SubnetType: subnetType,
		},
	}
	if task.ServiceName != "" {
		props.ServiceName = jsii.String(task.ServiceName)
	}

	s.Service = awsecs.NewFargateService(s.Stack, jsii.String("Service"), props)
}

// addOutputs adds CloudFormation outputs.
func (s *DelegateStack) addOutputs() {
	awscdk.NewCfnOutput(s.Stack, jsii.String("VPCID"), &awscdk.CfnOutputProps{
		Value:       s.VPC.VpcId(),
		Description: jsii.String("VPC ID"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("ClusterName"), &awscdk.CfnOutputProps{
		Value:       s.Cluster.ClusterName(),
		Description: jsii.String("ECS cluster name"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("ClusterArn"), &awscdk.CfnOutputProps{
		Value:       s.Cluster.ClusterArn(),
		Description: jsii.String("ECS cluster ARN"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("TaskRoleARN"), &awscdk.CfnOutputProps{
		Value:       s.TaskRole.RoleArn(),
		Description: jsii.String("IAM task role ARN"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("TaskDefinitionArn"), &awscdk.CfnOutputProps{
		Value:       s.TaskDefinition.TaskDefinitionArn(),
		Description: jsii.String("Delegate task definition ARN"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("ServiceName"), &awscdk.CfnOutputProps{
		Value:       s.Service.ServiceName(),
		Description: jsii.String("Delegate service name"),
	})

	awscdk.NewCfnOutput(s.Stack, jsii.String("ServiceArn"), &awscdk.CfnOutputProps{
		Value:       s.Service.ServiceArn(),
		Description: jsii.String("Delegate service ARN"),
	})

	if s.LogGroup != nil {
		awscdk.NewCfnOutput(s.Stack, jsii.String("LogGroupName"), &awscdk.CfnOutputProps{
			Value:       s.LogGroup.LogGroupName(),
			Description: jsii.String("CloudWatch log group name"),
		})
	}

	awscdk.NewCfnOutput(s.Stack, jsii.String("EnvironmentCount"), &awscdk.CfnOutputProps{
		Value:       jsii.String(strconv.Itoa(len(s.Environment))),
		Description: jsii.String("Number of plain environment variables passed to the delegate"),
	})
}

func descriptionOrNil(description string) *string {
	if description == "" {
		return nil
	}
	return jsii.String(description)
}

// convertTags converts a map to CDK tags.
func convertTags(tags map[string]string) *map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	result := make(map[string]*string, len(tags))
	for k, v := range tags {
		result[k] = jsii.String(v)
	}
	return &result
}
