package fetchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func TestAllBuildsEveryFetcherInColumnOrder(t *testing.T) {
	all := All(Deps{})
	require.Len(t, all, len(scanning.AllFetcherIDs()))
	for i, id := range scanning.AllFetcherIDs() {
		assert.Equal(t, id, all[i].ID())
	}
}

func TestAllSharesMACWithVendor(t *testing.T) {
	var (
		mac    *MAC
		vendor *MACVendor
	)
	for _, f := range All(Deps{}) {
		switch v := f.(type) {
		case *MAC:
			mac = v
		case *MACVendor:
			vendor = v
		}
	}
	require.NotNil(t, mac)
	require.NotNil(t, vendor)
	assert.Same(t, mac, vendor.mac)
}

func TestNewRegistryDefaultSelection(t *testing.T) {
	reg := NewRegistry(Deps{})
	assert.Equal(t, scanning.DefaultFetchers, reg.SelectedIDs())
	assert.Len(t, reg.All(), len(scanning.AllFetcherIDs()))
}

func TestFullNames(t *testing.T) {
	cfg := testConfig()
	cfg.PortString = "80,443"
	names := map[scanning.FetcherID]string{}
	for _, f := range All(Deps{Config: cfg}) {
		names[f.ID()] = f.FullName()
	}
	assert.Equal(t, "Ping", names[scanning.FetcherPing])
	assert.Equal(t, "HttpProxy", names[scanning.FetcherHTTPProxy])
	assert.Equal(t, "Ports [2+]", names[scanning.FetcherPorts])
}
