package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// ConfigDir is the per-user directory searched for .env files.
const ConfigDir = ".delegate"

// ReadEnvFile reads KEY=VALUE pairs from path. Empty values and
// placeholders starting with "your-" are dropped.
func ReadEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	for k, v := range values {
		if v == "" || strings.HasPrefix(v, "your-") {
			delete(values, k)
		}
	}
	return values, nil
}

// FindEnvFile returns the first existing .env file in this order:
//
//  1. .env
//  2. ../.env
//  3. ~/.delegate/projects/<project>/.env, when project is set
//  4. ~/.delegate/.env
func FindEnvFile(project string) (string, error) {
	home, _ := os.UserHomeDir()
	return findEnvFile(project, home)
}

func findEnvFile(project, home string) (string, error) {
	candidates := []string{".env", filepath.Join("..", ".env")}
	if home != "" {
		if project != "" {
			candidates = append(candidates, filepath.Join(home, ConfigDir, "projects", project, ".env"))
		}
		candidates = append(candidates, filepath.Join(home, ConfigDir, ".env"))
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no .env file found in: %s", strings.Join(candidates, ", "))
}

// DetectProjectName returns stackName from delegate.json in the current or
// parent directory, falling back to the working directory name.
func DetectProjectName() string {
	for _, path := range []string{"delegate.json", filepath.Join("..", "delegate.json")} {
		if name := stackNameFromFile(path); name != "" {
			return name
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Base(wd)
	}
	return ""
}

func stackNameFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var config struct {
		StackName string `json:"stackName"`
	}
	if yaml.Unmarshal(data, &config) != nil {
		return ""
	}
	return config.StackName
}
