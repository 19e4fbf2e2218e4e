package federation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadError_Is(t *testing.T) {
	cause := &StatusError{URL: "http://remote.local/assets/remoteEntry.js", StatusCode: 503}
	err := fmt.Errorf("resolve: %w", &LoadError{
		Kind:      ErrManifestFetch,
		Container: "remoteApp",
		Exposed:   "./Button",
		Err:       cause,
	})

	assert.True(t, errors.Is(err, ErrManifestFetch))
	assert.False(t, errors.Is(err, ErrMissingExport))

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 503, statusErr.StatusCode)

	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.True(t, loadErr.ContainerWide())
	assert.Contains(t, err.Error(), "remoteApp/Button")
}

func TestLoadError_Scope(t *testing.T) {
	missing := &LoadError{Kind: ErrMissingExport, Container: "remoteApp", Exposed: "./store"}
	assert.False(t, missing.ContainerWide())
	assert.Equal(t, "remoteApp/store: exposed module not found", missing.Error())

	unknown := &LoadError{Kind: ErrUnknownRemote, Container: "ghost"}
	assert.True(t, unknown.ContainerWide())
	assert.Equal(t, "ghost: unknown remote", unknown.Error())
}
