package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func joined(recs []string) string {
	return strings.Join(recs, "\n")
}

func TestRecommendationsHealthy(t *testing.T) {
	m := newTestManager(t, testConfig(t), &stubFetcher{data: []byte("x")})

	recs := m.Recommendations()
	assert.Equal(t, []string{"cache is operating within healthy bounds"}, recs)
}

func TestRecommendationsLowHitRate(t *testing.T) {
	m := newTestManager(t, testConfig(t), &stubFetcher{data: []byte("x")})

	for i := 0; i < 30; i++ {
		m.metrics.RecordMiss(time.Millisecond)
	}

	assert.Contains(t, joined(m.Recommendations()), "hit rate is low")
}

func TestRecommendationsSlowLoads(t *testing.T) {
	m := newTestManager(t, testConfig(t), &stubFetcher{data: []byte("x")})

	for i := 0; i < 30; i++ {
		m.metrics.RecordMiss(2 * time.Second)
	}

	all := joined(m.Recommendations())
	assert.Contains(t, all, "take over 1s")
	assert.Contains(t, all, "average load latency")
}

func TestRecommendationsFlakySource(t *testing.T) {
	m := newTestManager(t, testConfig(t), &stubFetcher{data: []byte("x")})

	for i := 0; i < 10; i++ {
		m.metrics.RecordMiss(time.Millisecond)
		m.metrics.RecordRetry()
	}

	assert.Contains(t, joined(m.Recommendations()), "fetch retries")
}
