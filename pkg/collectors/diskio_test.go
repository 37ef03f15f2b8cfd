package collectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kstatDiskCmd   = "kstat -p -c disk"
	zpoolListCmd   = "zpool list -Hp -o name,alloc,free,cap,frag,health"
	zpoolIostatCmd = "zpool iostat -Hp"
)

const diskSampleOne = `sd:0:sd0:class	disk
sd:0:sd0:crtime	123.456789
sd:0:sd0:nread	1000000
sd:0:sd0:nwritten	500000
sd:0:sd0:reads	100
sd:0:sd0:writes	50
sd:0:sd0:snaptime	98765.432
`

const diskSampleTwo = `sd:0:sd0:class	disk
sd:0:sd0:nread	2000000
sd:0:sd0:nwritten	600000
sd:0:sd0:reads	300
sd:0:sd0:writes	150
`

func TestDiskIODerivesRatesFromCounterDeltas(t *testing.T) {
	s, r, st := newTestService(t)
	s.cfg.DiskIOIntervalSeconds = 10
	ctx := context.Background()
	advance := setClock(s, time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC))

	r.stub(kstatDiskCmd, diskSampleOne)
	require.NoError(t, s.collectDiskIO(ctx))

	advance(10 * time.Second)
	r.stub(kstatDiskCmd, diskSampleTwo)
	require.NoError(t, s.collectDiskIO(ctx))

	rows, err := st.ListDiskIOStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "sd0", first.Device)
	assert.Equal(t, int64(100), first.Reads)
	assert.Nil(t, first.ReadsDelta, "first sample has no previous sample")
	assert.Nil(t, first.ReadBps)

	second := rows[1]
	require.NotNil(t, second.ReadsDelta)
	assert.Equal(t, int64(200), *second.ReadsDelta)
	require.NotNil(t, second.WritesDelta)
	assert.Equal(t, int64(100), *second.WritesDelta)
	require.NotNil(t, second.ReadBps)
	assert.Equal(t, 100000.0, *second.ReadBps)
	require.NotNil(t, second.WriteBps)
	assert.Equal(t, 10000.0, *second.WriteBps)
	require.NotNil(t, second.ReadsPerSec)
	assert.Equal(t, 20.0, *second.ReadsPerSec)
	require.NotNil(t, second.WritesPerSec)
	assert.Equal(t, 10.0, *second.WritesPerSec)
}

func TestDiskIOSkipsKstatWithoutCounters(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(kstatDiskCmd, "sd:0:sd0,err:Soft Errors\t0\nsd:0:sd0,err:Hard Errors\t0\n")
	require.NoError(t, s.collectDiskIO(ctx))

	rows, err := st.ListDiskIOStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows, "error kstats carry no I/O counters")
}

func TestPoolIOMergesListAndIostat(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(kstatDiskCmd, "")
	r.stub(zpoolListCmd, "rpool\t10737418240\t96636764160\t10\t7\tONLINE\n")
	r.stub(zpoolIostatCmd, "rpool\t10737418240\t96636764160\t5\t10\t1048576\t2097152\n")

	require.NoError(t, s.collectDiskIO(ctx))

	rows, err := st.ListPoolIOStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p := rows[0]
	assert.Equal(t, "rpool", p.Pool)
	assert.Equal(t, int64(10737418240), p.AllocBytes)
	assert.Equal(t, int64(96636764160), p.FreeBytes)
	assert.Equal(t, int64(5), p.ReadOps)
	assert.Equal(t, int64(10), p.WriteOps)
	assert.Equal(t, int64(1048576), p.ReadBandwidth)
	assert.Equal(t, int64(2097152), p.WriteBandwidth)
	require.NotNil(t, p.CapacityPct)
	assert.Equal(t, 10.0, *p.CapacityPct)
	require.NotNil(t, p.FragmentationPct)
	assert.Equal(t, 7.0, *p.FragmentationPct)
	assert.Equal(t, "ONLINE", p.Health)
}

func TestPoolIOWithUnknownFragmentation(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(kstatDiskCmd, "")
	r.stub(zpoolListCmd, "tank\t1024\t2048\t33\t-\tDEGRADED\n")
	r.stub(zpoolIostatCmd, "")

	require.NoError(t, s.collectDiskIO(ctx))

	rows, err := st.ListPoolIOStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].FragmentationPct)
	assert.Zero(t, rows[0].ReadOps, "a pool missing from iostat keeps zero operation counters")
	assert.Equal(t, "DEGRADED", rows[0].Health)
}
