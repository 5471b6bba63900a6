package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvFile(t *testing.T) {
	values, err := ReadEnvFile(filepath.Join("testdata", "sample.env"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"ACCOUNT_SECRET":        "2f3a4b5c6d7e8f90a1b2c3d4e5f60718",
		"DELEGATE_TOKEN":        "tok-123456",
		"MANAGER_HOST_AND_PORT": "https://app.harness.io",
	}, values)

	_, err = ReadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "reading env file")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFindEnvFile(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	work := filepath.Join(root, "project", "cdk")
	require.NoError(t, os.MkdirAll(work, 0o755))
	t.Chdir(work)

	_, err := findEnvFile("delegate", home)
	assert.ErrorContains(t, err, "no .env file found")

	global := filepath.Join(home, ConfigDir, ".env")
	writeFile(t, global, "A=1\n")
	path, err := findEnvFile("delegate", home)
	require.NoError(t, err)
	assert.Equal(t, global, path)

	projectEnv := filepath.Join(home, ConfigDir, "projects", "delegate", ".env")
	writeFile(t, projectEnv, "A=2\n")
	path, err = findEnvFile("delegate", home)
	require.NoError(t, err)
	assert.Equal(t, projectEnv, path)

	path, err = findEnvFile("", home)
	require.NoError(t, err)
	assert.Equal(t, global, path)

	writeFile(t, filepath.Join(root, "project", ".env"), "A=3\n")
	path, err = findEnvFile("delegate", home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", ".env"), path)

	writeFile(t, filepath.Join(work, ".env"), "A=4\n")
	path, err = findEnvFile("delegate", home)
	require.NoError(t, err)
	assert.Equal(t, ".env", path)
}

func TestDetectProjectName(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "delegate-infra")
	require.NoError(t, os.MkdirAll(work, 0o755))
	t.Chdir(work)

	assert.Equal(t, "delegate-infra", DetectProjectName())

	writeFile(t, filepath.Join(root, "delegate.json"), `{"stackName":"parent-stack"}`)
	assert.Equal(t, "parent-stack", DetectProjectName())

	writeFile(t, filepath.Join(work, "delegate.json"), `{"stackName":"local-stack"}`)
	assert.Equal(t, "local-stack", DetectProjectName())
}
