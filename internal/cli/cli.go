// Package cli holds setup shared by the delegate commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// DefaultRegion is used when neither a flag nor the environment names one.
const DefaultRegion = "us-east-1"

// NewLogger returns a text logger on stderr. Higher verbosity enables
// logr V-levels.
func NewLogger(verbosity int) logr.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(verbosity * -1),
	})
	return logr.FromSlogHandler(handler)
}

// AddVerbosityFlag registers -v/--verbosity on cmd and installs the logger
// in the command context before any subcommand runs.
func AddVerbosityFlag(cmd *cobra.Command) {
	var verbosity int
	cmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "set the verbosity level")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(logr.NewContext(ctx, NewLogger(verbosity)))
	}
}

// Execute runs cmd and logs any error it returns. Callers exit non-zero on
// error once their own cleanup has run.
func Execute(cmd *cobra.Command) error {
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		NewLogger(0).Error(err, "command failed", "command", cmd.Name())
	}
	return err
}

// ResolveRegion returns region, else AWS_REGION, else AWS_DEFAULT_REGION,
// else DefaultRegion.
func ResolveRegion(region string) string {
	for _, candidate := range []string{region, os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION")} {
		if candidate != "" {
			return candidate
		}
	}
	return DefaultRegion
}

// LoadAWSConfig loads the default AWS configuration for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// AccountID returns the account of the caller's credentials.
func AccountID(ctx context.Context, cfg aws.Config) (string, error) {
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("getting AWS identity: %w", err)
	}
	return aws.ToString(identity.Account), nil
}
