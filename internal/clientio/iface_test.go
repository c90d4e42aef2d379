package clientio

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
)

func TestEligibleAddressesExcludesConfiguredNetwork(t *testing.T) {
	addrs, err := eligibleAddresses(nil)
	require.NoError(t, err)
	require.NotEmpty(t, addrs, "expected at least loopback to be eligible")

	var loopback net.IP
	for _, a := range addrs {
		if a.IsLoopback() {
			loopback = a
		}
	}
	require.NotNil(t, loopback, "loopback interface should be eligible with no exclusions")

	_, excluded, err := net.ParseCIDR(loopback.String() + "/32")
	require.NoError(t, err)
	nf := config.NetFilter{*excluded}

	addrsAfter, err := eligibleAddresses(nf)
	require.NoError(t, err)
	for _, a := range addrsAfter {
		assert.False(t, a.Equal(loopback))
	}
}
