package component

import (
	"testing"

	"mfehost/pkg/federation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buttonDef = federation.ModuleDefinition{
	Kind:     federation.KindComponent,
	Name:     "Button",
	Template: `<button class="remote-button" type="button">{{.label}}</button>`,
	Props:    []string{"label"},
}

func TestRenderButton(t *testing.T) {
	button, err := FromDefinition(buttonDef)
	require.NoError(t, err)
	assert.Equal(t, "Button", button.Name())
	assert.Equal(t, []string{"label"}, button.Props())

	tests := []struct {
		name     string
		props    map[string]any
		want     string
		errorMsg string
	}{
		{
			name:  "label",
			props: map[string]any{"label": "Remote Button Counter"},
			want:  `<button class="remote-button" type="button">Remote Button Counter</button>`,
		},
		{
			name:  "label is escaped",
			props: map[string]any{"label": `<script>alert("x")</script>`},
			want:  `<button class="remote-button" type="button">&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</button>`,
		},
		{
			name:     "missing label",
			props:    map[string]any{},
			errorMsg: "missing required props: label",
		},
		{
			name:     "nil props",
			props:    nil,
			errorMsg: "missing required props: label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html, err := button.Render(tt.props)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(html))
		})
	}
}

func TestFromDefinitionErrors(t *testing.T) {
	_, err := FromDefinition(federation.ModuleDefinition{Kind: federation.KindStore, Name: "store"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a component")

	_, err = FromDefinition(federation.ModuleDefinition{Kind: federation.KindComponent, Template: "{{.label"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestFromHandle(t *testing.T) {
	h := &federation.ModuleHandle{
		Ref:        federation.ModuleRef{Container: "remoteApp", Exposed: "./store"},
		Definition: federation.ModuleDefinition{Kind: federation.KindStore},
	}
	_, err := FromHandle(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remoteApp/store")
}
