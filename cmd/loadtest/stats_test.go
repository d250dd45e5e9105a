package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	var sample []time.Duration
	for i := 100; i >= 1; i-- {
		sample = append(sample, time.Duration(i)*time.Millisecond)
	}

	assert.Equal(t, 51*time.Millisecond, percentile(sample, 0.50))
	assert.Equal(t, 100*time.Millisecond, percentile(sample, 0.99))
	assert.Equal(t, 100*time.Millisecond, percentile(sample, 1))
	assert.Zero(t, percentile(nil, 0.99))
	// input order is untouched
	assert.Equal(t, 100*time.Millisecond, sample[0])
}

func TestStatsRecord(t *testing.T) {
	s := &Stats{}
	s.recordSuccess(30*time.Millisecond, WriteOperation)
	s.recordSuccess(10*time.Millisecond, ReadOperation)
	s.recordError()

	assert.EqualValues(t, 3, s.totalRequests)
	assert.EqualValues(t, 1, s.failedRequests)
	assert.Equal(t, 10*time.Millisecond, s.minLatency)
	assert.Equal(t, 30*time.Millisecond, s.maxLatency)
	assert.Equal(t, 20*time.Millisecond, s.averageLatency())
	assert.Len(t, s.writeLatencies, 1)
	assert.Len(t, s.readLatencies, 1)
}
