package taskspec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, data string) *Document {
	t.Helper()
	doc, err := ParseTaskSpec([]byte(data))
	require.NoError(t, err)
	return doc
}

func TestExtractEnvironment(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want Environment
	}{
		{
			name: "later container overrides earlier",
			doc:  `{"containerDefinitions":[{"environment":[{"name":"A","value":"1"},{"name":"B","value":"2"}]},{"environment":[{"name":"A","value":"9"}]}]}`,
			want: Environment{"A": "9", "B": "2"},
		},
		{
			name: "later entry overrides earlier within a container",
			doc:  `{"containerDefinitions":[{"environment":[{"name":"A","value":"1"},{"name":"A","value":"2"},{"name":"A","value":"3"}]}]}`,
			want: Environment{"A": "3"},
		},
		{
			name: "unique names across containers",
			doc:  `{"containerDefinitions":[{"environment":[{"name":"A","value":"1"}]},{"environment":[{"name":"B","value":"2"},{"name":"C","value":""}]}]}`,
			want: Environment{"A": "1", "B": "2", "C": ""},
		},
		{
			name: "no container definitions",
			doc:  `{"containerDefinitions":[]}`,
			want: Environment{},
		},
		{
			name: "containerDefinitions omitted",
			doc:  `{"family":"x"}`,
			want: Environment{},
		},
		{
			name: "containers without entries",
			doc:  `{"containerDefinitions":[{"name":"a","environment":[]},{"name":"b"}]}`,
			want: Environment{},
		},
		{
			name: "other fields ignored",
			doc:  `{"containerDefinitions":[{"name":"a","image":"img","portMappings":[{"containerPort":8080}],"environment":[{"name":"A","value":"1"}]}]}`,
			want: Environment{"A": "1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ExtractEnvironment(mustParse(t, tc.doc))
			require.NoError(t, err)
			require.NotNil(t, env)
			assert.Equal(t, tc.want, env)
		})
	}
}

func TestExtractEnvironmentUniqueCount(t *testing.T) {
	doc := &Document{}
	total := 0
	for c := range 4 {
		def := ContainerDefinition{Name: fmt.Sprintf("c%d", c)}
		for e := range c + 2 {
			name := fmt.Sprintf("VAR_%d_%d", c, e)
			value := fmt.Sprintf("value-%d-%d", c, e)
			def.Environment = append(def.Environment, EnvironmentEntry{Name: &name, Value: &value})
			total++
		}
		doc.ContainerDefinitions = append(doc.ContainerDefinitions, def)
	}

	env, err := ExtractEnvironment(doc)
	require.NoError(t, err)
	assert.Len(t, env, total)
	for _, def := range doc.ContainerDefinitions {
		for _, entry := range def.Environment {
			assert.Equal(t, *entry.Value, env[*entry.Name])
		}
	}
}

func TestExtractEnvironmentMalformed(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want MalformedEntryError
	}{
		{
			name: "missing value",
			doc:  `{"containerDefinitions":[{"name":"delegate","environment":[{"name":"A","value":"1"},{"name":"B"}]}]}`,
			want: MalformedEntryError{Container: "delegate", Index: 1, Field: "value"},
		},
		{
			name: "missing name",
			doc:  `{"containerDefinitions":[{"environment":[]},{"environment":[{"value":"1"}]}]}`,
			want: MalformedEntryError{Container: "#1", Index: 0, Field: "name"},
		},
		{
			name: "null value",
			doc:  `{"containerDefinitions":[{"name":"d","environment":[{"name":"A","value":null}]}]}`,
			want: MalformedEntryError{Container: "d", Index: 0, Field: "value"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ExtractEnvironment(mustParse(t, tc.doc))
			assert.Nil(t, env)

			var malformed *MalformedEntryError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tc.want, *malformed)
		})
	}
}

func TestExtractNilDocument(t *testing.T) {
	_, err := ExtractEnvironment(nil)
	assert.ErrorIs(t, err, ErrNilDocument)

	_, err = ExtractSecrets(nil)
	assert.ErrorIs(t, err, ErrNilDocument)
}

func TestExtractSecrets(t *testing.T) {
	doc := mustParse(t, `{"containerDefinitions":[
		{"secrets":[{"name":"TOKEN","valueFrom":"arn:one"}]},
		{"secrets":[{"name":"TOKEN","valueFrom":"arn:two"},{"name":"KEY","valueFrom":"arn:three"}]}
	]}`)

	secrets, err := ExtractSecrets(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TOKEN": "arn:two", "KEY": "arn:three"}, secrets)

	_, err = ExtractSecrets(mustParse(t, `{"containerDefinitions":[{"name":"x","secrets":[{"name":"TOKEN"}]}]}`))
	var malformed *MalformedEntryError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "valueFrom", malformed.Field)
}

func TestEnvironmentHelpers(t *testing.T) {
	env := Environment{"B": "2", "A": "1", "ACCOUNT_SECRET": "s3cr3t"}

	assert.Equal(t, []string{"A", "ACCOUNT_SECRET", "B"}, env.Keys())

	merged := env.Merge(map[string]string{"A": "override", "C": "3"})
	assert.Equal(t, "override", merged["A"])
	assert.Equal(t, "3", merged["C"])
	assert.Equal(t, "1", env["A"], "merge must not modify the receiver")

	clone := Environment(nil).Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone)

	plain, sensitive := env.Split(IsSensitiveName)
	assert.Equal(t, Environment{"A": "1", "B": "2"}, plain)
	assert.Equal(t, Environment{"ACCOUNT_SECRET": "s3cr3t"}, sensitive)
}

func TestIsSensitiveName(t *testing.T) {
	for name, want := range map[string]bool{
		"ACCOUNT_SECRET":        true,
		"DELEGATE_TOKEN":        true,
		"db_password":           true,
		"OPENAI_API_KEY":        true,
		"SSH_PRIVATE_KEY":       true,
		"ACCOUNT_ID":            false,
		"MANAGER_HOST_AND_PORT": false,
		"DELEGATE_KEYRING_PATH": false,
	} {
		assert.Equal(t, want, IsSensitiveName(name), name)
	}
}
