package collectors

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterDeltaClampsBackwardCounters(t *testing.T) {
	assert.Equal(t, int64(500000), counterDelta(1500000, 1000000))
	assert.Equal(t, int64(0), counterDelta(100, 200), "wraparound reads as zero")
	assert.Equal(t, int64(0), counterDelta(0, 0))
}

func TestDeltaWindowRequiresNearlyAFullInterval(t *testing.T) {
	assert.False(t, deltaWindowMet(1*time.Second, 30*time.Second))
	assert.False(t, deltaWindowMet(28*time.Second, 30*time.Second), "boundary is strict")
	assert.True(t, deltaWindowMet(29*time.Second, 30*time.Second))
	assert.True(t, deltaWindowMet(30*time.Second, 30*time.Second))

	// Sub-slack intervals only insist on forward motion.
	assert.True(t, deltaWindowMet(time.Millisecond, time.Second))
	assert.False(t, deltaWindowMet(0, time.Second))
}

// A 500 KB receive delta and a 100 KB transmit delta over ten seconds on a
// 1000 Mbps link.
func TestDerivedRatesForTypicalSample(t *testing.T) {
	const (
		rbytesDelta = 1500000 - 1000000
		obytesDelta = 2100000 - 2000000
		seconds     = 10.0
		speedMbps   = 1000
	)

	rxBps := ratePerSecond(rbytesDelta, seconds)
	require.NotNil(t, rxBps)
	assert.Equal(t, 50000.0, *rxBps)

	rxMbps := megabitsPerSecond(*rxBps)
	require.NotNil(t, rxMbps)
	assert.Equal(t, 0.40, *rxMbps)

	rxUtil := utilizationPct(rbytesDelta, speedMbps, seconds)
	require.NotNil(t, rxUtil)
	assert.Equal(t, 0.04, *rxUtil)

	txBps := ratePerSecond(obytesDelta, seconds)
	require.NotNil(t, txBps)
	assert.Equal(t, 10000.0, *txBps)

	txMbps := megabitsPerSecond(*txBps)
	require.NotNil(t, txMbps)
	assert.Equal(t, 0.08, *txMbps)
}

func TestNonPositiveIntervalYieldsNil(t *testing.T) {
	assert.Nil(t, ratePerSecond(1000, 0))
	assert.Nil(t, ratePerSecond(1000, -1))
	assert.Nil(t, utilizationPct(1000, 1000, 0))
}

func TestUnknownLinkSpeedYieldsNilUtilization(t *testing.T) {
	assert.Nil(t, utilizationPct(1000, 0, 10))
	assert.Nil(t, utilizationPct(1000, -1, 10))
}

func TestFiniteRejectsNaNAndInfinity(t *testing.T) {
	assert.Nil(t, finite(math.NaN()))
	assert.Nil(t, finite(math.Inf(1)))
	assert.Nil(t, finite(math.Inf(-1)))
	v := finite(1.25)
	require.NotNil(t, v)
	assert.Equal(t, 1.25, *v)
}

func TestPercentOf(t *testing.T) {
	p := percentOf(20, 900)
	require.NotNil(t, p)
	assert.Equal(t, 2.22, *p)

	assert.Nil(t, percentOf(1, 0))
	assert.Nil(t, percentOf(1, -5))
}
