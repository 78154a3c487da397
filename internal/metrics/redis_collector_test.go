package metrics

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func gatherProcessing(t *testing.T, c prometheus.Collector) (float64, bool) {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "pfmea_sessions_processing" && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestRedisCollectorCountsProcessingSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := newRedisCollector(rdb, nil)
	if v, ok := gatherProcessing(t, c); !ok || v != 0 {
		t.Fatalf("empty set: value=%v ok=%v", v, ok)
	}

	if err := rdb.SAdd(context.Background(), KeyProcessingSessions, "s1", "s2").Err(); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if v, ok := gatherProcessing(t, newRedisCollector(rdb, nil)); !ok || v != 2 {
		t.Fatalf("value=%v ok=%v, want 2", v, ok)
	}
}

func TestRedisCollectorSkipsOnError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	if _, ok := gatherProcessing(t, newRedisCollector(rdb, nil)); ok {
		t.Fatal("no sample expected when redis is down")
	}
	if _, ok := gatherProcessing(t, newRedisCollector(nil, nil)); ok {
		t.Fatal("no sample expected without a client")
	}
}
