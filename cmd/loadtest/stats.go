package main

import (
	"sort"
	"sync"
	"time"
)

type OperationType int

const (
	WriteOperation OperationType = iota
	ReadOperation
)

type Stats struct {
	sync.Mutex
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	totalLatency    time.Duration
	maxLatency      time.Duration
	minLatency      time.Duration
	writeLatencies  []time.Duration
	readLatencies   []time.Duration
}

func (s *Stats) recordSuccess(latency time.Duration, opType OperationType) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.successRequests++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}

	switch opType {
	case WriteOperation:
		s.writeLatencies = append(s.writeLatencies, latency)
	case ReadOperation:
		s.readLatencies = append(s.readLatencies, latency)
	}
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.failedRequests++
}

// percentile returns the p-th (0..1) latency of an unsorted sample.
func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *Stats) averageLatency() time.Duration {
	if s.successRequests == 0 {
		return 0
	}
	return s.totalLatency / time.Duration(s.successRequests)
}

func (s *Stats) report(duration time.Duration) {
	s.Lock()
	defer s.Unlock()

	log.Info("Load Test Results:")
	log.Info("Total Requests: %d", s.totalRequests)
	log.Info("Successful Requests: %d", s.successRequests)
	log.Info("Failed Requests: %d", s.failedRequests)
	log.Info("Average Latency: %v", s.averageLatency())
	log.Info("Min Latency: %v", s.minLatency)
	log.Info("Max Latency: %v", s.maxLatency)
	log.Info("P50 / P99 Write Latency: %v / %v", percentile(s.writeLatencies, 0.50), percentile(s.writeLatencies, 0.99))
	log.Info("P50 / P99 Read Latency: %v / %v", percentile(s.readLatencies, 0.50), percentile(s.readLatencies, 0.99))
	log.Info("Requests per Second: %.2f", float64(s.totalRequests)/duration.Seconds())
	log.Info("Total Duration: %v", duration)
}
