// Package secrets pushes delegate credentials to AWS Secrets Manager.
//
// Values come from the delegate task spec and from .env files. They are
// stored as a single JSON object keyed by variable name, which is the shape
// the delegate stack reads through ECS secret references.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/go-logr/logr"
)

// API is the subset of the Secrets Manager client used by Pusher.
type API interface {
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// Result describes what Push did.
type Result string

const (
	Created Result = "created"
	Updated Result = "updated"
	Skipped Result = "skipped"
	DryRun  Result = "dry-run"
)

// Pusher creates or updates secrets.
type Pusher struct {
	Client API

	// DryRun logs what would be pushed without calling Client.
	DryRun bool
}

// NewPusher returns a Pusher backed by a Secrets Manager client.
func NewPusher(cfg aws.Config, dryRun bool) *Pusher {
	p := &Pusher{DryRun: dryRun}
	if !dryRun {
		p.Client = secretsmanager.NewFromConfig(cfg)
	}
	return p
}

// Push writes values as a JSON object to the named secret. The existing
// secret is updated; a missing one is created with description.
func (p *Pusher) Push(ctx context.Context, name, description string, values map[string]string) (Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("secret", name)

	if name == "" {
		return "", errors.New("secret name is required")
	}
	if len(values) == 0 {
		log.Info("skipping secret, no values found")
		return Skipped, nil
	}

	keys := slices.Sorted(maps.Keys(values))
	log = log.WithValues("keys", strings.Join(keys, ","))

	if p.DryRun {
		masked := make(map[string]string, len(values))
		for k, v := range values {
			masked[k] = MaskValue(v)
		}
		log.Info("dry run, secret not pushed", "values", masked)
		return DryRun, nil
	}
	if p.Client == nil {
		return "", errors.New("secrets manager client is not configured")
	}

	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling secret %s: %w", name, err)
	}

	_, err = p.Client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(data)),
	})
	if err == nil {
		log.Info("updated existing secret")
		return Updated, nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("updating secret %s: %w", name, err)
	}
	if strings.HasPrefix(name, "arn:") {
		return "", fmt.Errorf("secret %s does not exist and cannot be created from an ARN: %w", name, err)
	}

	_, err = p.Client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		Description:  aws.String(description),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		return "", fmt.Errorf("creating secret %s: %w", name, err)
	}
	log.Info("created new secret")
	return Created, nil
}

// Collect returns base with overrides applied for every override key that
// include accepts. Neither input is modified.
func Collect(base, overrides map[string]string, include func(name string) bool) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string)
	}
	for k, v := range overrides {
		if include(k) {
			out[k] = v
		}
	}
	return out
}

// MaskValue hides all but the first four characters of a value.
func MaskValue(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:4]) + "***"
}
