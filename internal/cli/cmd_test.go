package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/cloudlog/internal/pipeline"
	"github.com/telhawk-systems/cloudlog/internal/schema"
)

const auditLine = `{"insertId":"a1","timestamp":"2024-03-01T00:00:00Z","resource":{"type":"gce_instance","labels":{"project_id":"p"}},"protoPayload":{"methodName":"m","authenticationInfo":{"principalEmail":"bob@example.com"},"status":{"code":7}}}`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		normalizeKeepOriginal, normalizeFailFast, normalizeOutput, normalizeReceivedAt = false, false, "json", ""
		seedSources, seedCount, seedValue = "", 10, 0
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"serve": false, "normalize": false, "seed": false, "config": false}
	for _, c := range rootCmd.Commands() {
		name := strings.Fields(c.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "command %s not registered", name)
	}
}

func TestParseSources(t *testing.T) {
	all, err := parseSources("")
	require.NoError(t, err)
	assert.Equal(t, schema.Sources(), all)

	some, err := parseSources("audit, cloud-armor")
	require.NoError(t, err)
	assert.Equal(t, []schema.Source{schema.Audit, schema.CloudArmor}, some)

	_, err = parseSources("audit,gke")
	assert.Error(t, err)
}

func TestNormalizeWriter_Stream(t *testing.T) {
	sc, err := schema.For(schema.Audit)
	require.NoError(t, err)
	p, err := pipeline.New(sc, pipeline.Config{})
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	w := &normalizeWriter{pipeline: p, out: &out, errOut: &errOut, format: "json"}
	input := auditLine + "\n\n" + "{broken\n" + `{"insertId":"nopayload"}` + "\n"
	require.NoError(t, w.stream(context.Background(), "test", strings.NewReader(input)))

	assert.Equal(t, 1, w.ok)
	assert.Equal(t, 2, w.failed)
	assert.Contains(t, errOut.String(), "test:3: decode_json:")
	assert.Contains(t, errOut.String(), "test:4: promote_payload:")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "failure", doc["event"].(map[string]interface{})["outcome"])

	w = &normalizeWriter{pipeline: p, out: &out, errOut: &errOut, format: "json", failFast: true}
	assert.Error(t, w.stream(context.Background(), "test", strings.NewReader("nope\n"+auditLine)))
	assert.Equal(t, 0, w.ok)
}

func TestNormalizeCommand(t *testing.T) {
	out, _, err := execute(t, auditLine+"\n", "normalize", "--source", "audit", "--keep-original", "--output", "yaml")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(strings.TrimPrefix(out, "---\n")), &doc))
	event := doc["event"].(map[string]interface{})
	assert.Equal(t, auditLine, event["original"])
	assert.Equal(t, "a1", event["id"])

	_, stderr, err := execute(t, "{}\n", "normalize", "--source", "audit")
	assert.EqualError(t, err, "1 of 1 entries failed")
	assert.Contains(t, stderr, "promote_payload")

	_, _, err = execute(t, "", "normalize", "--source", "gke")
	assert.Error(t, err)
}

func TestNormalizeCommand_ReceivedAt(t *testing.T) {
	input := `{"timestamp":"not a time","protoPayload":{"serviceName":"storage.googleapis.com"}}` + "\n" + auditLine + "\n"
	out, _, err := execute(t, input, "normalize", "--source", "audit", "--received-at", "2020-01-02T03:04:05Z")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var fallback, stamped map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &fallback))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &stamped))
	assert.Equal(t, "2020-01-02T03:04:05Z", fallback["@timestamp"])
	assert.Equal(t, "2024-03-01T00:00:00Z", stamped["@timestamp"], "entry timestamp wins over the ingestion clock")

	_, _, err = execute(t, auditLine+"\n", "normalize", "--source", "audit", "--received-at", "yesterday")
	assert.ErrorContains(t, err, "invalid --received-at")
}

func TestSeedCommand(t *testing.T) {
	out, _, err := execute(t, "", "seed", "--source", "cloud_armor,bigquery", "--count", "3", "--seed", "5")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	for _, line := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.NotEmpty(t, entry["insertId"])
	}

	_, _, err = execute(t, "", "seed", "--count", "0")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	out, _, err := execute(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "port: 8095")
	assert.Contains(t, out, "cloud_armor:")
}
