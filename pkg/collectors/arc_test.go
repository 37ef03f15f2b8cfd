package collectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kstatARCCmd = "kstat -p zfs:0:arcstats"

const arcSample = `zfs:0:arcstats:c	4294967296
zfs:0:arcstats:c_max	8589934592
zfs:0:arcstats:c_min	1073741824
zfs:0:arcstats:compressed_size	2147483648
zfs:0:arcstats:crtime	49.861247
zfs:0:arcstats:demand_data_hits	7000
zfs:0:arcstats:demand_data_misses	300
zfs:0:arcstats:hits	9000
zfs:0:arcstats:l2_hits	0
zfs:0:arcstats:l2_misses	0
zfs:0:arcstats:l2_size	0
zfs:0:arcstats:memory_throttle_count	0
zfs:0:arcstats:mfu_hits	5000
zfs:0:arcstats:misses	1000
zfs:0:arcstats:mru_hits	4000
zfs:0:arcstats:prefetch_data_hits	500
zfs:0:arcstats:size	3221225472
zfs:0:arcstats:uncompressed_size	4294967296
`

func TestARCSampleAndHitRate(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(kstatARCCmd, arcSample)
	require.NoError(t, s.collectARC(ctx))

	rows, err := st.ListARCStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	a := rows[0]
	assert.Equal(t, int64(3221225472), a.SizeBytes)
	assert.Equal(t, int64(4294967296), a.TargetBytes)
	assert.Equal(t, int64(1073741824), a.MinBytes)
	assert.Equal(t, int64(8589934592), a.MaxBytes)
	assert.Equal(t, int64(9000), a.Hits)
	assert.Equal(t, int64(1000), a.Misses)
	assert.Equal(t, int64(7000), a.DemandDataHits)
	assert.Equal(t, int64(4000), a.MRUHits)
	assert.Equal(t, int64(5000), a.MFUHits)
	assert.Equal(t, int64(2147483648), a.CompressedSize)
	require.NotNil(t, a.HitRatePct)
	assert.Equal(t, 90.0, *a.HitRatePct)
}

func TestARCHitRateNilWithoutTraffic(t *testing.T) {
	s, r, st := newTestService(t)
	ctx := context.Background()

	r.stub(kstatARCCmd, "zfs:0:arcstats:size\t1024\nzfs:0:arcstats:hits\t0\nzfs:0:arcstats:misses\t0\n")
	require.NoError(t, s.collectARC(ctx))

	rows, err := st.ListARCStatsSince(ctx, "hv01", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].HitRatePct)
}

func TestARCFailsOnEmptyKstat(t *testing.T) {
	s, r, _ := newTestService(t)
	r.stub(kstatARCCmd, "")
	err := s.collectARC(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arcstats")
}
