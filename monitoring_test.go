package idb

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok(t, RegisterMetrics(reg))
	ok(t, RegisterMetrics(reg))

	ctx := testContext(t)
	desc := libDescriptor(uniqueName(t), 1)
	s := setup(t, desc)
	must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	must(Create(ctx, s, "nodes", &Node{Name: "b"}, nil))
	_, err := Create(ctx, s, "nodes", &Node{Name: "c"}, func(n *Node, _ Key) *Node { return nil })
	isErr(t, err, ErrConfig)

	deepEqual(t, testutil.ToFloat64(metricOps.WithLabelValues(desc.Name, "create", "ok")), 2.0)
	deepEqual(t, testutil.ToFloat64(metricOps.WithLabelValues(desc.Name, "create", "config")), 1.0)

	n := must(testutil.GatherAndCount(reg, "idb_operation_duration_seconds"))
	if n == 0 {
		t.Errorf("no latency series gathered")
	}
}

func TestStats(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))
	must(Create(ctx, s, "nodes", &Node{Name: "a", Meta: &Meta{Path: "/a"}}, nil))
	must(Create(ctx, s, "nodes", &Node{Name: "b"}, nil))

	stats := must(s.Stats(ctx))
	deepEqual(t, len(stats), 1)
	deepEqual(t, stats[0].Name, "nodes")
	deepEqual(t, stats[0].Rows, 2)
	deepEqual(t, stats[0].IndexRows, 3)
	deepEqual(t, stats[0].NextKey, Key(3))
}

// Stats must not wait for a key counter while holding a read transaction:
// a growing bolt commit waits for every open reader.
func TestStats_concurrentWithCreate(t *testing.T) {
	ctx := testContext(t)
	desc := libDescriptor(uniqueName(t), 1)
	s := setupWith(t, desc, Options{Dir: t.TempDir(), IsTesting: true, Logf: t.Logf})

	const creates = 200
	payload := strings.Repeat("x", 16<<10)
	done := make(chan error, 2)
	go func() {
		for range creates {
			if _, err := Create(ctx, s, "blobs", &Node{Name: payload}, nil); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	go func() {
		for range 500 {
			if _, err := s.Stats(ctx); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	timeout := time.After(30 * time.Second)
	for range 2 {
		select {
		case err := <-done:
			ok(t, err)
		case <-timeout:
			t.Fatalf("Create and Stats did not finish")
		}
	}
	deepEqual(t, must(s.Stats(ctx))[1].NextKey, Key(creates+1))
}

func TestLoggableVal(t *testing.T) {
	deepEqual(t, loggableVal(nil), "<none>")
	deepEqual(t, loggableVal(map[string]any{"a": 1}), `{"a":1}`)
	if s := loggableVal(func() {}); !strings.HasPrefix(s, "0x") {
		t.Errorf("loggableVal(func) = %q", s)
	}
}
