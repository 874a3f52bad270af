package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPLimiterBucketsArePerIP(t *testing.T) {
	l := newIPLimiter(0.001, 1, 16, time.Minute)

	assert.True(t, l.get("10.0.0.1").Allow())
	assert.False(t, l.get("10.0.0.1").Allow())
	assert.True(t, l.get("10.0.0.2").Allow())
}

func TestIPLimiterKeepsActiveBucket(t *testing.T) {
	l := newIPLimiter(0.001, 1, 16, 100*time.Millisecond)

	assert.True(t, l.get("10.0.0.1").Allow())
	// запросы чаще idle: бакет не сбрасывается, лимит держится
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		assert.False(t, l.get("10.0.0.1").Allow())
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIPLimiterEvictsIdleBucket(t *testing.T) {
	l := newIPLimiter(0.001, 1, 16, 50*time.Millisecond)

	assert.True(t, l.get("10.0.0.1").Allow())
	assert.False(t, l.get("10.0.0.1").Allow())

	time.Sleep(200 * time.Millisecond)
	assert.True(t, l.get("10.0.0.1").Allow())
}

func TestIPLimiterBoundedBySize(t *testing.T) {
	l := newIPLimiter(0.001, 1, 2, time.Minute)

	assert.True(t, l.get("a").Allow())
	assert.True(t, l.get("b").Allow())
	assert.True(t, l.get("c").Allow()) // вытесняет "a"
	assert.Equal(t, 2, l.limiters.Len())
	assert.True(t, l.get("a").Allow())
}

func TestIPLimiterZeroRateIsUnlimited(t *testing.T) {
	l := NewIPLimiter(0, 1)
	for i := 0; i < 50; i++ {
		assert.True(t, l.get("10.0.0.1").Allow())
	}
}
