package taskspec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"
)

// SetupDocsURL points operators at the vendor's ECS delegate setup guide, which
// explains how to download the task spec file.
const SetupDocsURL = "https://docs.harness.io/article/wrm6hpyrjl-harness-ecs-delegate#set_up_ecs_delegate_in_aws"

// ErrEmptyDocument is returned when a task spec file has no content.
var ErrEmptyDocument = errors.New("task spec document is empty")

// ConfigurationLoadError reports a task spec that could not be read or parsed.
type ConfigurationLoadError struct {
	Path string
	Err  error
}

func (e *ConfigurationLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("loading task spec: %v", e.Err)
	}
	return fmt.Sprintf("loading task spec %s: %v", e.Path, e.Err)
}

func (e *ConfigurationLoadError) Unwrap() error {
	return e.Err
}

// LoadTaskSpec reads and parses the task spec at path. JSON and YAML are both
// accepted. Failures are logged with a pointer to the setup docs and returned
// as a *ConfigurationLoadError.
func LoadTaskSpec(ctx context.Context, path string) (*Document, error) {
	log := logr.FromContextOrDiscard(ctx)

	doc, err := loadTaskSpec(path)
	if err != nil {
		log.Error(err, "delegate task spec file not found or invalid", "path", path, "setupDocs", SetupDocsURL)
		return nil, err
	}

	log.V(1).Info("loaded task spec", "path", path, "containers", len(doc.ContainerDefinitions))
	return doc, nil
}

func loadTaskSpec(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationLoadError{Path: path, Err: err}
	}

	doc, err := ParseTaskSpec(data)
	if err != nil {
		var loadErr *ConfigurationLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// ParseTaskSpec parses a task spec from JSON or YAML data.
func ParseTaskSpec(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigurationLoadError{Err: ErrEmptyDocument}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationLoadError{Err: err}
	}
	return &doc, nil
}

// LoadEnvironment loads the task spec at path and flattens its environment.
func LoadEnvironment(ctx context.Context, path string) (Environment, error) {
	doc, err := LoadTaskSpec(ctx, path)
	if err != nil {
		return nil, err
	}
	return ExtractEnvironment(doc)
}
