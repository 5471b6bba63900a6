package delegate

import (
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
)

// CdkEnv determines the account and region the stack is deployed to. Explicit
// values win; otherwise CDK_DEPLOY_ACCOUNT/CDK_DEPLOY_REGION are used as a
// pair, then CDK_DEFAULT_ACCOUNT/CDK_DEFAULT_REGION as set by the cdk CLI.
// It returns nil when nothing is known, leaving the stack environment-agnostic.
func CdkEnv(account, region string) *awscdk.Environment {
	if account == "" || region == "" {
		deployAccount := os.Getenv("CDK_DEPLOY_ACCOUNT")
		deployRegion := os.Getenv("CDK_DEPLOY_REGION")
		if deployAccount == "" || deployRegion == "" {
			deployAccount = os.Getenv("CDK_DEFAULT_ACCOUNT")
			deployRegion = os.Getenv("CDK_DEFAULT_REGION")
		}
		if account == "" {
			account = deployAccount
		}
		if region == "" {
			region = deployRegion
		}
	}

	if account == "" && region == "" {
		return nil
	}

	env := &awscdk.Environment{}
	if account != "" {
		env.Account = jsii.String(account)
	}
	if region != "" {
		env.Region = jsii.String(region)
	}
	return env
}
