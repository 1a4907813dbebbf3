package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkingConfigStaticAddress(t *testing.T) {
	cfg := networkingConfig(CreateSpec{Network: "stackhost", IPAddress: "10.10.0.5"})

	require.Contains(t, cfg.EndpointsConfig, "stackhost")
	endpoint := cfg.EndpointsConfig["stackhost"]
	require.NotNil(t, endpoint.IPAMConfig)
	assert.Equal(t, "10.10.0.5", endpoint.IPAMConfig.IPv4Address)
}

func TestNetworkingConfigWithoutNetwork(t *testing.T) {
	// No managed network configured: leave attachment to the daemon.
	cfg := networkingConfig(CreateSpec{IPAddress: "10.10.0.5"})
	assert.Empty(t, cfg.EndpointsConfig)
}

func TestNetworkingConfigWithoutAddress(t *testing.T) {
	cfg := networkingConfig(CreateSpec{Network: "stackhost"})

	require.Contains(t, cfg.EndpointsConfig, "stackhost")
	assert.Nil(t, cfg.EndpointsConfig["stackhost"].IPAMConfig)
}
