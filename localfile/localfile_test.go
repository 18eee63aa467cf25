package localfile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replane-dev/replane-go"
)

func TestParseShortFormBareValues(t *testing.T) {
	snap, err := Parse([]byte(`
configs:
  feature-a: true
  feature-b: "variant-2"
  limit: 10
`))
	require.NoError(t, err)
	require.Len(t, snap.Configs, 3)

	byName := indexByName(snap.Configs)
	assert.Equal(t, true, byName["feature-a"].Value)
	assert.Equal(t, "variant-2", byName["feature-b"].Value)
	assert.Equal(t, 10, byName["limit"].Value)
	assert.Empty(t, byName["feature-a"].Overrides)
}

func TestParseLongFormWithOverrides(t *testing.T) {
	snap, err := Parse([]byte(`
configs:
  env-config:
    value: default
    overrides:
      - name: prod
        conditions:
          - kind: equals
            property: env
            value: { value: production }
        value: production-value
context:
  env: production
`))
	require.NoError(t, err)
	require.Len(t, snap.Configs, 1)

	entry := snap.Configs[0]
	assert.Equal(t, "env-config", entry.Name)
	assert.Equal(t, "default", entry.Value)
	require.Len(t, entry.Overrides, 1)
	assert.Equal(t, "production-value", entry.Overrides[0].Value)

	require.NotNil(t, snap.Context)
	assert.Equal(t, "production", (*snap.Context)["env"])
}

func TestParseBareObjectValueIsNotMisreadAsLongForm(t *testing.T) {
	snap, err := Parse([]byte(`
configs:
  thresholds:
    low: 1
    high: 10
`))
	require.NoError(t, err)
	require.Len(t, snap.Configs, 1)

	entry := snap.Configs[0]
	assert.Equal(t, "thresholds", entry.Name)
	assert.Empty(t, entry.Overrides, "a bare object with no \"overrides\" key is the base value itself, not a long-form spec")

	asMap, ok := entry.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, asMap["low"])
	assert.Equal(t, 10, asMap["high"])
}

func TestLoadReturnsUsableSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/configs.yaml"
	require.NoError(t, os.WriteFile(path, []byte("configs:\n  a: 1\n"), 0o644))

	snap, err := Load(path)
	require.NoError(t, err)
	require.Len(t, snap.Configs, 1)

	client, err := replane.Restore(snap, nil, "")
	require.NoError(t, err)
	defer client.Close()

	v, err := client.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/does-not-exist.yaml")
	assert.Error(t, err)
}

func indexByName(entries []replane.Entry) map[string]replane.Entry {
	out := make(map[string]replane.Entry, len(entries))
	for _, e := range entries {
		out[e.Name] = e
	}
	return out
}

