package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringCarriesBuildMetadata(t *testing.T) {
	s := String()
	assert.Contains(t, s, "tearags")
	assert.Contains(t, s, Version)
	assert.Contains(t, s, Commit)
	assert.Contains(t, s, runtime.Version())
}

func TestShortIsBareVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
	assert.NotEmpty(t, Short())
}
