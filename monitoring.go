package idb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type CollectionStats struct {
	Name      string
	Rows      int
	IndexRows int
	NextKey   Key

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (cs *CollectionStats) TotalSize() int64 {
	return cs.DataSize + cs.IndexSize
}

func (cs *CollectionStats) TotalAlloc() int64 {
	return cs.DataAlloc + cs.IndexAlloc
}

// Stats reports per-collection sizes in descriptor order. Sizes are as
// precise as the engine allows; row counts are exact.
func (s *Store) Stats(ctx context.Context) (result []CollectionStats, err error) {
	start := time.Now()
	defer func() { s.observe("stats", start, err) }()
	if err := s.beginOp(ctx); err != nil {
		return nil, err
	}

	// Read the counters before opening the transaction: Create holds an
	// allocator while it commits, and a commit may wait for open readers.
	next := make(map[string]Key, len(s.colls))
	for name, c := range s.colls {
		next[name] = c.alloc.peek()
	}

	err = s.run(false, func(tx *tx) error {
		result = make([]CollectionStats, 0, len(s.desc.Collections))
		for _, cd := range s.desc.Collections {
			c := s.colls[cd.Name]
			bs := tx.dataBucket(c.state).Stats()
			st := CollectionStats{
				Name:      cd.Name,
				Rows:      bs.KeyN,
				NextKey:   next[cd.Name],
				DataSize:  bs.LeafInuse,
				DataAlloc: bs.TotalAlloc(),
			}
			for _, is := range c.state.indexStates {
				bs = tx.indexBucket(c.state, is).Stats()
				st.IndexRows += bs.KeyN
				st.IndexSize += bs.LeafInuse
				st.IndexAlloc += bs.TotalAlloc()
			}
			result = append(result, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

var (
	metricOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idb",
		Name:      "operations_total",
		Help:      "Store operations by outcome",
	}, []string{"store", "op", "result"})

	metricOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idb",
		Name:      "operation_duration_seconds",
		Help:      "Store operation latency, including the wait for readiness",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"store", "op"})

	metricDeleteRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idb",
		Name:      "delete_store_retries_total",
		Help:      "DeleteStore attempts that found the store blocked",
	}, []string{"store"})
)

// RegisterMetrics exposes operation counters and latencies on reg. Calling it
// again with the same registry is harmless.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{metricOps, metricOpDuration, metricDeleteRetries} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	observe(s.Name(), op, start, err)
}

func observe(store, op string, start time.Time, err error) {
	metricOps.WithLabelValues(store, op, errorKind(err)).Inc()
	metricOpDuration.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
}

func observeOpen(store string, start time.Time, err error) {
	observe(store, "open", start, err)
}

func loggableVal(v any) string {
	if v == nil {
		return "<none>"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
