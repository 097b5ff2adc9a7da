package version

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIVersionIsSemver(t *testing.T) {
	_, err := semver.StrictNewVersion(APIVersion)
	require.NoError(t, err)
}

func TestInfoString(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "2026-01-02", Version: "dev", APIVersion: APIVersion}
	assert.Equal(t, "0123456", info.Short())
	assert.Contains(t, info.String(), "gometa dev")
	assert.Contains(t, info.String(), "0123456")

	info.Version = "v0.4.0"
	assert.Contains(t, info.String(), "gometa v0.4.0")

	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
}
