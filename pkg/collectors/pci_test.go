package collectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showDevsCmd = "pcieadm show-devs -p -o path,driver,instance,vendor-id,device-id,vendor,device,class"

func TestPCIInventorySnapshot(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(showDevsCmd, "PATH:DRIVER:INSTANCE:VENDOR-ID:DEVICE-ID:VENDOR:DEVICE:CLASS\n"+
		"/pci@0,0/pci8086,2918@1f:isa:0:8086:2918:Intel Corporation:82801IB LPC Interface Controller:bridge\n"+
		"/pci@0,0/display@2:-:-:1234:1111:Example Corp:Framebuffer:display\n")

	require.NoError(t, s.collectPCI(ctx))

	devs, err := st.ListPCIDevices(ctx, "hv01")
	require.NoError(t, err)
	require.Len(t, devs, 2, "the header row is not a device")

	assert.Equal(t, "/pci@0,0/display@2", devs[0].Path)
	assert.Empty(t, devs[0].Driver, "driverless devices keep an empty driver")
	assert.Zero(t, devs[0].Instance)
	assert.Equal(t, "1234", devs[0].VendorID)

	assert.Equal(t, "/pci@0,0/pci8086,2918@1f", devs[1].Path)
	assert.Equal(t, "isa", devs[1].Driver)
	assert.Equal(t, "Intel Corporation", devs[1].VendorName)
	assert.Equal(t, "82801IB LPC Interface Controller", devs[1].DeviceName)
	assert.Equal(t, "bridge", devs[1].Class)
}

func TestPCIDropsShortRecords(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(showDevsCmd, "/pci@0,0/broken@1:igb\n"+
		"/pci@0,0/ok@2:igb:1:8086:1521:Intel Corporation:I350 Gigabit:network\n")

	require.NoError(t, s.collectPCI(ctx))

	devs, err := st.ListPCIDevices(ctx, "hv01")
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "/pci@0,0/ok@2", devs[0].Path)
}
