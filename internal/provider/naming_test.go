package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelSlug(t *testing.T) {
	assert.Equal(t, "black-forest-labs--FLUX.1-schnell", ModelSlug("black-forest-labs/FLUX.1-schnell"))
	assert.Equal(t, "plain-name", ModelSlug(" plain-name "))
}

func TestUserEndpointName(t *testing.T) {
	sum := sha256.Sum256([]byte("rpa_TEST"))
	hash := hex.EncodeToString(sum[:])

	name := UserEndpointName(hash, "black-forest-labs/FLUX.1-schnell")
	assert.Equal(t, "visgate-"+hash[:10]+"-black-forest-labs--FLUX.1-schnell", name)
}

func TestUserEndpointNameShortHash(t *testing.T) {
	// Hashes shorter than the prefix width are used whole.
	assert.Equal(t, "visgate-abc-m", UserEndpointName("abc", "m"))
}

func TestPoolEndpointName(t *testing.T) {
	assert.Equal(t, "visgate-pool-stabilityai--sd-turbo", PoolEndpointName("stabilityai/sd-turbo"))
}

func TestIsLive(t *testing.T) {
	assert.True(t, IsLive("RUNNING"))
	assert.True(t, IsLive(""))
	assert.False(t, IsLive("terminated"))
	assert.False(t, IsLive(" FAILED "))
	assert.False(t, IsLive("Stopped"))
}
