package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteEntry = `{
  "name": "remoteApp",
  "exposes": {
    "./Button": {"chunk": "__federation_expose_Button.json", "kind": "component"},
    "store": {"chunk": "./__federation_expose_store.json"}
  },
  "shared": {
    "react": {"version": "18.3.1", "requiredVersion": "^18.2.0", "singleton": true},
    "react-dom": {"version": "18.3.1", "singleton": true}
  }
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(remoteEntry))
	require.NoError(t, err)

	assert.Equal(t, "remoteApp", m.Name)
	assert.Equal(t, []string{"./Button", "./store"}, m.ExposedPaths())
	assert.Equal(t, []string{"react", "react-dom"}, m.SharedNames())
	assert.Equal(t, "^18.2.0", m.Shared["react"].RequiredVersion)
	assert.True(t, m.Shared["react-dom"].Singleton)

	url, err := m.ChunkURL("http://localhost:5001/assets/remoteEntry.js", "./store")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5001/assets/__federation_expose_store.json", url)

	_, err = m.ChunkURL("http://localhost:5001/assets/remoteEntry.js", "./Missing")
	assert.Error(t, err)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		errorMsg string
	}{
		{"not json", `<script>`, "failed to decode"},
		{"no name", `{"exposes": {}}`, "no container name"},
		{"empty chunk", `{"name": "r", "exposes": {"./Button": {"chunk": ""}}}`, "has no chunk"},
		{"empty path", `{"name": "r", "exposes": {"./": {"chunk": "a.json"}}}`, "empty path"},
		{"duplicate", `{"name": "r", "exposes": {"./Button": {"chunk": "a.json"}, "Button": {"chunk": "b.json"}}}`, "declared twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestParseModuleDefinition(t *testing.T) {
	def, err := ParseModuleDefinition([]byte(`{"kind": "component", "name": "Button", "template": "<button>{{.label}}</button>", "props": ["label"]}`))
	require.NoError(t, err)
	assert.Equal(t, KindComponent, def.Kind)
	assert.Equal(t, []string{"label"}, def.Props)

	def, err = ParseModuleDefinition([]byte(`{"kind": "store", "initial": 5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, def.Initial)

	_, err = ParseModuleDefinition([]byte(`{"kind": "component"}`))
	assert.ErrorContains(t, err, "no template")

	_, err = ParseModuleDefinition([]byte(`{"kind": "worker"}`))
	assert.ErrorContains(t, err, "unsupported module kind")

	_, err = ParseModuleDefinition([]byte(`{}`))
	assert.ErrorContains(t, err, "no kind")
}
