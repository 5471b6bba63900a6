package delegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexusone/delegate-aws-cdk/taskspec"
)

func TestDefaultStackConfig(t *testing.T) {
	config := DefaultStackConfig()

	assert.Equal(t, DefaultStackName, config.StackName)
	require.NotNil(t, config.VPC)
	assert.True(t, config.VPC.CreateVPC)
	assert.Equal(t, DefaultVPCCidr, config.VPC.VPCCidr)
	assert.Equal(t, 2, config.VPC.MaxAZs)
	require.NotNil(t, config.Task)
	assert.Equal(t, "harness/delegate:latest", config.Task.Image)
	assert.Equal(t, 1024, config.Task.CPU)
	assert.Equal(t, 6144, config.Task.MemoryMiB)
	assert.Equal(t, 1, config.Task.Desired())
	assert.False(t, config.Task.AssignPublicIP)
	assert.Nil(t, config.Logging)
	assert.Nil(t, config.Secrets)
	assert.NoError(t, config.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	config := StackConfig{
		StackName: "custom",
		VPC:       &VPCConfig{VPCID: "vpc-123"},
		Task:      &TaskConfig{Image: "img", CPU: 512, MemoryMiB: 2048, DesiredCount: intPtr(3)},
		Logging:   &LoggingConfig{Enabled: true},
	}
	config.ApplyDefaults()
	config.ApplyDefaults()

	assert.Equal(t, "custom", config.StackName)
	assert.False(t, config.VPC.CreateVPC)
	assert.Empty(t, config.VPC.VPCCidr)
	assert.Equal(t, "img", config.Task.Image)
	assert.Equal(t, 512, config.Task.CPU)
	assert.Equal(t, 2048, config.Task.MemoryMiB)
	assert.Equal(t, 3, config.Task.Desired())
	assert.Equal(t, DefaultLogRetentionDays, config.Logging.RetentionDays)
	assert.Equal(t, DefaultLogStreamPrefix, config.Logging.StreamPrefix)
	assert.NoError(t, config.Validate())
}

func TestApplyDefaultsDesiredCount(t *testing.T) {
	config := StackConfig{Task: &TaskConfig{}}
	config.ApplyDefaults()
	assert.Equal(t, DefaultDesiredCount, config.Task.Desired())

	builder := NewStackBuilder("scaled-down").WithDesiredCount(0)
	config = builder.Config()
	config.ApplyDefaults()
	require.NotNil(t, config.Task.DesiredCount)
	assert.Equal(t, 0, config.Task.Desired())
	assert.NoError(t, config.Validate())

	scaled, err := LoadStackConfigFromJSON([]byte(`{"stackName":"x","task":{"desiredCount":0}}`))
	require.NoError(t, err)
	scaled.ApplyDefaults()
	assert.Equal(t, 0, scaled.Task.Desired())
}

func TestApplyTaskSpec(t *testing.T) {
	doc := &taskspec.Document{
		Family: "vendor-family",
		CPU:    2048,
		Memory: 4096,
		ContainerDefinitions: []taskspec.ContainerDefinition{
			{Name: "delegate", Image: "vendor/delegate:7"},
		},
	}

	t.Run("fills empty fields", func(t *testing.T) {
		config := StackConfig{}
		config.ApplyTaskSpec(doc)
		config.ApplyDefaults()

		assert.Equal(t, "vendor-family", config.Task.Family)
		assert.Equal(t, "vendor/delegate:7", config.Task.Image)
		assert.Equal(t, 2048, config.Task.CPU)
		assert.Equal(t, 4096, config.Task.MemoryMiB)
	})

	t.Run("keeps explicit fields", func(t *testing.T) {
		config := StackConfig{Task: &TaskConfig{Image: "mine:1", CPU: 512, MemoryMiB: 1024}}
		config.ApplyTaskSpec(doc)

		assert.Equal(t, "mine:1", config.Task.Image)
		assert.Equal(t, 512, config.Task.CPU)
		assert.Equal(t, 1024, config.Task.MemoryMiB)
	})

	t.Run("nil document", func(t *testing.T) {
		config := StackConfig{}
		config.ApplyTaskSpec(nil)
		assert.Nil(t, config.Task)
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *StackConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *StackConfig) {},
		},
		{
			name:    "empty image",
			mutate:  func(c *StackConfig) { c.Task.Image = "" },
			wantErr: "image is required",
		},
		{
			name:    "invalid cpu",
			mutate:  func(c *StackConfig) { c.Task.CPU = 1000 },
			wantErr: "cpu 1000 is not a Fargate size",
		},
		{
			name:    "memory out of range for cpu",
			mutate:  func(c *StackConfig) { c.Task.CPU = 256; c.Task.MemoryMiB = 6144 },
			wantErr: "memory 6144 MiB is not valid with cpu 256",
		},
		{
			name:    "negative desired count",
			mutate:  func(c *StackConfig) { c.Task.DesiredCount = intPtr(-1) },
			wantErr: "desiredCount",
		},
		{
			name:    "container port out of range",
			mutate:  func(c *StackConfig) { c.Task.ContainerPort = 70000 },
			wantErr: "containerPort",
		},
		{
			name:    "vpc id with create",
			mutate:  func(c *StackConfig) { c.VPC.VPCID = "vpc-1"; c.VPC.CreateVPC = true },
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown removal policy",
			mutate:  func(c *StackConfig) { c.RemovalPolicy = "snapshot" },
			wantErr: "removalPolicy",
		},
		{
			name:    "secrets without a secret",
			mutate:  func(c *StackConfig) { c.Secrets = &SecretsConfig{Keys: []string{"A"}} },
			wantErr: "secretName or secretArn",
		},
		{
			name:    "secrets without keys",
			mutate:  func(c *StackConfig) { c.Secrets = &SecretsConfig{SecretName: "s"} },
			wantErr: "keys is empty",
		},
		{
			name:   "secrets with auto detect",
			mutate: func(c *StackConfig) { c.Secrets = &SecretsConfig{SecretARN: "arn:s", AutoDetect: true} },
		},
		{
			name: "secret refs",
			mutate: func(c *StackConfig) {
				c.Task.SecretRefs = map[string]string{
					"A": "arn:aws:secretsmanager:us-east-1:123456789012:secret:delegate-AbCdEf:token::",
					"B": "arn:aws:ssm:us-east-1:123456789012:parameter/delegate/b",
					"C": "harness-upgrader-token",
				}
			},
		},
		{
			name:    "unsupported secret ref",
			mutate:  func(c *StackConfig) { c.Task.SecretRefs = map[string]string{"A": "arn:aws:s3:::bucket"} },
			wantErr: "secretRefs[A]",
		},
		{
			name:    "empty stack name",
			mutate:  func(c *StackConfig) { c.StackName = "" },
			wantErr: "stackName",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultStackConfig()
			tc.mutate(&config)

			err := config.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateFargateSize(t *testing.T) {
	valid := [][2]int{{256, 512}, {512, 4096}, {1024, 6144}, {2048, 16384}, {4096, 30720}, {8192, 20480}, {16384, 122880}}
	for _, size := range valid {
		assert.NoError(t, ValidateFargateSize(size[0], size[1]), "%v", size)
	}

	invalid := [][2]int{{256, 4096}, {1024, 1024}, {8192, 18432}, {3000, 6144}, {0, 0}}
	for _, size := range invalid {
		assert.Error(t, ValidateFargateSize(size[0], size[1]), "%v", size)
	}

	assert.Equal(t, []int{256, 512, 1024, 2048, 4096, 8192, 16384}, ValidCPUValues())
}

func TestClone(t *testing.T) {
	original := DefaultStackConfig()
	original.Task.Environment["A"] = "1"
	original.Secrets = &SecretsConfig{SecretName: "s", Keys: []string{"K"}}

	clone := original.Clone()
	clone.Task.Environment["A"] = "2"
	clone.Task.CPU = 4096
	clone.VPC.MaxAZs = 3
	clone.Secrets.Keys[0] = "changed"
	clone.Tags["x"] = "y"

	assert.Equal(t, "1", original.Task.Environment["A"])
	assert.Equal(t, 1024, original.Task.CPU)
	assert.Equal(t, 2, original.VPC.MaxAZs)
	assert.Equal(t, "K", original.Secrets.Keys[0])
	assert.NotContains(t, original.Tags, "x")
}

func TestSecretsConfigIsSecret(t *testing.T) {
	var none *SecretsConfig
	assert.False(t, none.IsSecret("ACCOUNT_SECRET"))

	explicit := &SecretsConfig{Keys: []string{"ACCOUNT_ID"}}
	assert.True(t, explicit.IsSecret("ACCOUNT_ID"))
	assert.False(t, explicit.IsSecret("ACCOUNT_SECRET"))

	detected := &SecretsConfig{AutoDetect: true}
	assert.True(t, detected.IsSecret("ACCOUNT_SECRET"))
	assert.False(t, detected.IsSecret("ACCOUNT_ID"))
}

func TestCdkEnv(t *testing.T) {
	for _, key := range []string{"CDK_DEPLOY_ACCOUNT", "CDK_DEPLOY_REGION", "CDK_DEFAULT_ACCOUNT", "CDK_DEFAULT_REGION"} {
		t.Setenv(key, "")
	}

	assert.Nil(t, CdkEnv("", ""))

	env := CdkEnv("111111111111", "eu-west-1")
	require.NotNil(t, env)
	assert.Equal(t, "111111111111", *env.Account)
	assert.Equal(t, "eu-west-1", *env.Region)

	t.Setenv("CDK_DEFAULT_ACCOUNT", "222222222222")
	t.Setenv("CDK_DEFAULT_REGION", "us-east-2")
	env = CdkEnv("", "")
	assert.Equal(t, "222222222222", *env.Account)
	assert.Equal(t, "us-east-2", *env.Region)

	t.Setenv("CDK_DEPLOY_ACCOUNT", "333333333333")
	t.Setenv("CDK_DEPLOY_REGION", "ap-south-1")
	env = CdkEnv("", "")
	assert.Equal(t, "333333333333", *env.Account)
	assert.Equal(t, "ap-south-1", *env.Region)

	env = CdkEnv("", "us-west-2")
	assert.Equal(t, "333333333333", *env.Account)
	assert.Equal(t, "us-west-2", *env.Region)
}

func TestSecretRefKind(t *testing.T) {
	testCases := []struct {
		ref  string
		want string
	}{
		{ref: "arn:aws:secretsmanager:us-east-1:123456789012:secret:delegate-AbCdEf", want: SecretRefSecretsManager},
		{ref: "arn:aws:secretsmanager:us-east-1:123456789012:secret:delegate-AbCdEf:token::", want: SecretRefSecretsManager},
		{ref: "arn:aws:ssm:us-east-1:123456789012:parameter/delegate/token", want: SecretRefSSM},
		{ref: "arn:aws:ssm:us-east-1:123456789012:document/delegate", want: ""},
		{ref: "arn:aws:s3:::bucket", want: ""},
		{ref: "harness-upgrader-token", want: SecretRefSSM},
		{ref: "/harness/upgrader-token", want: SecretRefSSM},
		{ref: "not a parameter", want: ""},
		{ref: "", want: ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, SecretRefKind(tc.ref), tc.ref)
	}
}
